package fdsn

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoData is returned when a service answers 204 or 404 for a query.
	ErrNoData = errors.New("fdsn: no data")
	// ErrUnknownServer is returned for a server name that is neither a known
	// data center nor a URL.
	ErrUnknownServer = errors.New("fdsn: unknown server")
	// ErrCredentials is returned when the credentials file is missing or malformed.
	ErrCredentials = errors.New("fdsn: invalid credentials")
)

// USPBaseURL is the Universidade de São Paulo data center.
const USPBaseURL = "https://seisrequest.iag.usp.br"

// USGSBaseURL serves the event catalog every request is paired with.
const USGSBaseURL = "https://earthquake.usgs.gov"

// knownServers maps FDSN short names to base URLs.
var knownServers = map[string]string{
	"IRIS":       "https://service.iris.edu",
	"IRISPH5":    "https://service.iris.edu",
	"GFZ":        "https://geofon.gfz-potsdam.de",
	"ORFEUS":     "https://www.orfeus-eu.org",
	"ODC":        "https://www.orfeus-eu.org",
	"RESIF":      "https://ws.resif.fr",
	"INGV":       "https://webservices.ingv.it",
	"ETH":        "https://eida.ethz.ch",
	"BGR":        "https://eida.bgr.de",
	"LMU":        "https://erde.geophysik.uni-muenchen.de",
	"NCEDC":      "https://service.ncedc.org",
	"SCEDC":      "https://service.scedc.caltech.edu",
	"USGS":       USGSBaseURL,
	"GEONET":     "https://service.geonet.org.nz",
	"RASPISHAKE": "https://data.raspberryshake.org",
	"USP":        USPBaseURL,
}

// Endpoint is a resolved connection target.
type Endpoint struct {
	Server   string
	BaseURL  string
	Username string
	Password string
}

// Authenticated reports whether requests must carry credentials.
func (e Endpoint) Authenticated() bool {
	return e.Username != ""
}

// ResolveOptions carries the run-level inputs a strategy may need.
type ResolveOptions struct {
	Auth            bool
	CredentialsPath string
}

// Strategy turns a server name into a connection target.
type Strategy func(server string, opts ResolveOptions) (Endpoint, error)

// Resolver picks a Strategy per server name. Names without a registered
// strategy go through DefaultStrategy.
type Resolver struct {
	strategies map[string]Strategy
}

// NewResolver returns a Resolver with the built-in server quirks registered.
func NewResolver() *Resolver {
	r := &Resolver{strategies: make(map[string]Strategy)}
	r.Register("USP", CredentialedStrategy(USPBaseURL))
	return r
}

// Register installs a strategy for a server name (case-insensitive).
func (r *Resolver) Register(server string, s Strategy) {
	r.strategies[strings.ToUpper(server)] = s
}

// Resolve returns the endpoint for a server.
func (r *Resolver) Resolve(server string, opts ResolveOptions) (Endpoint, error) {
	if s, ok := r.strategies[strings.ToUpper(server)]; ok {
		return s(server, opts)
	}
	return DefaultStrategy(server, opts)
}

// DefaultStrategy accepts a URL as is, or looks the name up among the
// well-known FDSN data centers.
func DefaultStrategy(server string, _ ResolveOptions) (Endpoint, error) {
	if strings.Contains(server, "://") {
		return Endpoint{Server: server, BaseURL: strings.TrimRight(server, "/")}, nil
	}
	base, ok := knownServers[strings.ToUpper(server)]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}
	return Endpoint{Server: server, BaseURL: base}, nil
}

// CredentialedStrategy connects to a fixed base URL and, when authentication
// is enabled, attaches the credentials read from the credentials file.
func CredentialedStrategy(baseURL string) Strategy {
	return func(server string, opts ResolveOptions) (Endpoint, error) {
		ep := Endpoint{Server: server, BaseURL: baseURL}
		if !opts.Auth {
			return ep, nil
		}
		user, password, err := ReadCredentials(opts.CredentialsPath)
		if err != nil {
			return Endpoint{}, err
		}
		ep.Username, ep.Password = user, password
		return ep, nil
	}
}
