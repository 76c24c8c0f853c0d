package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// recordVersion is the v= value a TXT record must carry to be considered.
const recordVersion = "rmc1"

// DNSResolverConfig contains configuration for DNS-based discovery.
type DNSResolverConfig struct {
	// Domains maps channel identifiers to the peer domain whose
	// _rmc.<domain> TXT records advertise the relay endpoint.
	Domains map[string]string

	// DefaultDomain is used for channels absent from Domains.
	DefaultDomain string

	// DNSServer is the DNS server to use for lookups (optional)
	// Format: "ip:port" (e.g., "8.8.8.8:53")
	// If empty, the system default resolver is used
	DNSServer string
}

// DNSResolver resolves relay endpoints from _rmc TXT records.
type DNSResolver struct {
	config    DNSResolverConfig
	dnsClient *dns.Client
}

// NewDNSResolver creates a DNS-based resolver.
func NewDNSResolver(config DNSResolverConfig) *DNSResolver {
	return &DNSResolver{
		config:    config,
		dnsClient: new(dns.Client),
	}
}

// Resolve looks up the endpoint advertised for the channel's peer domain.
func (r *DNSResolver) Resolve(ctx context.Context, channelID string) (string, error) {
	domain := r.config.Domains[channelID]
	if domain == "" {
		domain = r.config.DefaultDomain
	}
	if domain == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidDomain, channelID)
	}

	records, err := r.lookupTXT(ctx, fmt.Sprintf("_rmc.%s", domain))
	if errors.Is(err, ErrNoRecordsFound) {
		// Domains that publish no _rmc records are assumed to run a
		// relay at the well-known location.
		return fallbackEndpoint(domain), nil
	}
	if err != nil {
		return "", err
	}
	return selectEndpoint(records, channelID)
}

// fallbackEndpoint is the well-known relay URL for a domain without
// discovery records.
func fallbackEndpoint(domain string) string {
	return fmt.Sprintf("https://%s/v1/deliver", domain)
}

// lookupTXT performs the DNS TXT lookup and returns the record strings.
func (r *DNSResolver) lookupTXT(ctx context.Context, queryDomain string) ([]string, error) {
	dnsServer := r.config.DNSServer
	if dnsServer == "" {
		config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("failed to read DNS config: %w", err)
		}
		if len(config.Servers) == 0 {
			return nil, errors.New("no DNS servers configured")
		}
		dnsServer = config.Servers[0] + ":" + config.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(queryDomain), dns.TypeTXT)
	msg.RecursionDesired = true

	resp, _, err := r.dnsClient.ExchangeContext(ctx, msg, dnsServer)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", queryDomain, err)
	}

	if resp.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("DNS lookup failed for %s: rcode=%d", queryDomain, resp.Rcode)
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			// Long TXT records arrive split into strings; rejoin them.
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, queryDomain)
	}
	return records, nil
}

// endpointRecord is one parsed _rmc TXT record.
type endpointRecord struct {
	endpoint string
	channel  string
}

// parseRecord parses a single TXT record of key=value pairs.
func parseRecord(record string) (endpointRecord, error) {
	var parsed endpointRecord
	var version string

	for _, field := range strings.Fields(record) {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return endpointRecord{}, fmt.Errorf("%w: %q", ErrInvalidRecord, record)
		}
		switch key {
		case "v":
			version = value
		case "endpoint":
			parsed.endpoint = value
		case "channel":
			parsed.channel = value
		}
	}

	if version != recordVersion {
		return endpointRecord{}, fmt.Errorf("%w: unsupported version in %q", ErrInvalidRecord, record)
	}
	if parsed.endpoint == "" {
		return endpointRecord{}, fmt.Errorf("%w: missing endpoint in %q", ErrInvalidRecord, record)
	}

	parsedURL, err := url.Parse(parsed.endpoint)
	if err != nil {
		return endpointRecord{}, fmt.Errorf("invalid endpoint URL in record: %w", err)
	}
	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return endpointRecord{}, fmt.Errorf("%w: scheme %q in %q", ErrInvalidRecord, parsedURL.Scheme, record)
	}
	return parsed, nil
}

// selectEndpoint picks the best record for a channel: an exact channel
// match wins over a wildcard record. Unparseable records are skipped as
// long as one usable record remains.
func selectEndpoint(records []string, channelID string) (string, error) {
	var wildcard string
	var lastErr error

	for _, record := range records {
		parsed, err := parseRecord(record)
		if err != nil {
			lastErr = err
			continue
		}
		if parsed.channel == channelID {
			return parsed.endpoint, nil
		}
		if parsed.channel == "" && wildcard == "" {
			wildcard = parsed.endpoint
		}
	}

	if wildcard != "" {
		return wildcard, nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: %s", ErrNoEndpoint, channelID)
}

var _ Resolver = (*DNSResolver)(nil)
