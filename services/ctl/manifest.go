package ctl

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata written alongside an exported run archive.
type Manifest struct {
	Version          string    `yaml:"version"`
	CreatedAt        time.Time `yaml:"created_at"`
	Signer           string    `yaml:"signer,omitempty"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
	Records          int       `yaml:"records"`
	RunsSHA256       string    `yaml:"runs_sha256"`
	EarliestStart    time.Time `yaml:"earliest_start,omitempty"`
	LatestStart      time.Time `yaml:"latest_start,omitempty"`
}

// SigningBytes marshals the manifest without its signature for
// signing/verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}
