// Package config binds the daemon's long-lived, environment-derived
// configuration (spec §6: SYKLI_LABELS, SYKLI_PORT, SYKLI_COOKIE,
// SYKLI_COORDINATOR_ADDR and CI) through viper, and exposes the closed
// cache-fingerprint build-env whitelist (BuildEnvWhitelist), which reads
// through a caller-supplied lookup rather than viper. Binding is explicit
// field-by-field, never AutomaticEnv wildcarding, so the whitelist stays
// closed and auditable — the
// same closed-world philosophy the teacher's executor applies to a task's
// own env (see internal/target/local's allowlist-only injection).
package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// BuildEnvWhitelistKeys is the fixed set of build-environment variables that
// participate in a task's cache fingerprint. PATH is deliberately excluded.
var BuildEnvWhitelistKeys = []string{"GOPATH", "GOROOT", "CARGO_HOME", "NODE_ENV", "GOOS", "GOARCH"}

// Daemon is the daemon's environment-derived configuration.
type Daemon struct {
	Labels          []string
	Port            int
	Cookie          string
	CI              bool
	CoordinatorAddr string
}

// Load binds the spec §6 environment variables explicitly and returns the
// resolved daemon configuration.
func Load() (Daemon, error) {
	v := viper.New()
	v.SetDefault("sykli_port", 4369)

	for _, name := range []string{"sykli_labels", "sykli_port", "sykli_cookie", "ci", "sykli_coordinator_addr"} {
		if err := v.BindEnv(name); err != nil {
			return Daemon{}, err
		}
	}

	port := v.GetInt("sykli_port")
	if port < 1 || port > 65535 {
		return Daemon{}, &RangeError{Field: "SYKLI_PORT", Value: port}
	}

	var labels []string
	for _, l := range strings.Split(v.GetString("sykli_labels"), ",") {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}

	ci, _ := strconv.ParseBool(v.GetString("ci"))

	return Daemon{
		Labels:          labels,
		Port:            port,
		Cookie:          v.GetString("sykli_cookie"),
		CI:              ci,
		CoordinatorAddr: v.GetString("sykli_coordinator_addr"),
	}, nil
}

// RangeError reports a configuration value outside its valid range.
type RangeError struct {
	Field string
	Value int
}

func (e *RangeError) Error() string {
	return "config: " + e.Field + " out of range: " + strconv.Itoa(e.Value)
}

// BuildEnvWhitelist looks up each name in BuildEnvWhitelistKeys through the
// supplied lookup function (e.g. os.LookupEnv) — never os.Environ()
// wildcarding — so a task's cache fingerprint only ever observes the named
// variables. Names the lookup does not find are left out of the map.
func BuildEnvWhitelist(lookup func(string) (string, bool)) map[string]string {
	out := make(map[string]string, len(BuildEnvWhitelistKeys))
	for _, k := range BuildEnvWhitelistKeys {
		if v, ok := lookup(k); ok {
			out[k] = v
		}
	}
	return out
}
