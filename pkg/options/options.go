package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/validation"
)

// IOptions is implemented by every option group.
type IOptions interface {
	// Validate returns every problem with the options.
	Validate() []error

	// AddFlags binds the options to fs. Flag names are joined with the
	// optional prefixes.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks a host:port pair. The host may be empty.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q is not a valid address: %w", addr, err)
	}
	if host != "" && net.ParseIP(host) == nil {
		if errs := validation.IsDNS1123Subdomain(host); len(errs) > 0 {
			return fmt.Errorf("%q is not a valid host: %v", host, errs)
		}
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%q is not a valid port", port)
	}
	if errs := validation.IsValidPortNum(p); len(errs) > 0 {
		return fmt.Errorf("%q is not a valid port: %v", port, errs)
	}
	return nil
}

func join(prefixes ...string) string {
	p := ""
	for _, prefix := range prefixes {
		p += prefix + "."
	}
	return p
}
