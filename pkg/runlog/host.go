package runlog

import (
	"net"
	"os"
	"runtime"
	"strings"
)

// hostOrigin identifies the machine a run executed from.
func hostOrigin() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// hostContext captures host details for troubleshooting runs across servers.
// Lookups are best effort; unresolvable fields are omitted.
func hostContext() map[string]any {
	ctx := map[string]any{
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"runtime":  runtime.Version(),
	}

	name, err := os.Hostname()
	if err != nil {
		return ctx
	}
	ctx["host_name"] = name

	ips, err := net.LookupIP(name)
	if err != nil || len(ips) == 0 {
		return ctx
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			ctx["host_ip"] = v4.String()
			break
		}
	}
	if _, ok := ctx["host_ip"]; !ok {
		ctx["host_ip"] = ips[0].String()
	}

	if names, err := net.LookupAddr(ips[0].String()); err == nil && len(names) > 0 {
		ctx["fqdn"] = strings.TrimSuffix(names[0], ".")
	}

	return ctx
}
