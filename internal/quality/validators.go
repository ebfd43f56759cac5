package quality

import (
	"context"
	"errors"
	"net"

	"github.com/scripe/leadgen/internal/extract"
	"github.com/scripe/leadgen/internal/model"
	"github.com/scripe/leadgen/pkg/webscan"
)

// MXResolver looks up mail exchangers. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

// SiteProber checks website reachability. *webscan.Prober satisfies it.
type SiteProber interface {
	Probe(ctx context.Context, url string, deep bool) (webscan.ProbeResult, error)
}

// MailboxProber verifies that a mailbox accepts mail (premium tier).
type MailboxProber interface {
	ProbeMailbox(ctx context.Context, email string) (bool, error)
}

// Validator applies tier-appropriate checks to a lead's contact fields.
// Checks are tri-state: a field is confirmed valid, confirmed invalid, or
// left unvalidated when the network gave no answer. Validation failures
// lower the quality score; they never drop the lead.
type Validator struct {
	policy  TierPolicy
	mx      MXResolver
	site    SiteProber
	mailbox MailboxProber
}

// NewValidator builds a validator for a tier. mx and site default to real
// network implementations when nil; mailbox stays nil unless provided, which
// leaves premium mailbox checks unvalidated.
func NewValidator(policy TierPolicy, mx MXResolver, site SiteProber, mailbox MailboxProber) *Validator {
	if mx == nil {
		mx = net.DefaultResolver
	}
	if site == nil {
		site = webscan.NewProber()
	}
	return &Validator{policy: policy, mx: mx, site: site, mailbox: mailbox}
}

// Validate runs all applicable checks and records the outcomes on the lead.
func (v *Validator) Validate(ctx context.Context, lead *model.LeadRecord) {
	lead.PhoneValidation = v.validatePhone(lead)
	lead.EmailValidation = v.validateEmail(ctx, lead.Email)
	lead.WebsiteValidation = v.validateWebsite(ctx, lead.Website)
}

// validatePhone is a pure re-parse: connectors already normalized to E.164,
// so anything that fails to parse now is confirmed bad data.
func (v *Validator) validatePhone(lead *model.LeadRecord) model.ValidationState {
	if lead.Phone == "" {
		return model.ValidationUnchecked
	}
	if extract.NormalizePhone(lead.Phone, lead.Country) == "" {
		return model.ValidationInvalid
	}
	if v.policy.ClassifyPhoneLine {
		// Classification is informational; an unknown line type still counts
		// as a valid number.
		_ = extract.PhoneType(lead.Phone, lead.Country)
	}
	return model.ValidationValid
}

func (v *Validator) validateEmail(ctx context.Context, email string) model.ValidationState {
	if email == "" {
		return model.ValidationUnchecked
	}
	normalized := extract.NormalizeEmail(email)
	if normalized == "" {
		return model.ValidationInvalid
	}

	domain := extract.EmailDomain(normalized)
	if extract.IsDisposableDomain(domain) {
		return model.ValidationInvalid
	}
	if extract.SuggestDomain(domain) != "" {
		// A known provider typo cannot receive mail.
		return model.ValidationInvalid
	}

	if !v.policy.CheckMX {
		return model.ValidationValid
	}

	records, err := v.mx.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return model.ValidationInvalid
		}
		return model.ValidationUnvalidated
	}
	if len(records) == 0 {
		return model.ValidationInvalid
	}

	if !v.policy.ProbeMailbox {
		return model.ValidationValid
	}
	if v.mailbox == nil {
		return model.ValidationUnvalidated
	}
	ok, err := v.mailbox.ProbeMailbox(ctx, normalized)
	if err != nil {
		return model.ValidationUnvalidated
	}
	if !ok {
		return model.ValidationInvalid
	}
	return model.ValidationValid
}

func (v *Validator) validateWebsite(ctx context.Context, website string) model.ValidationState {
	if website == "" {
		return model.ValidationUnchecked
	}
	if extract.NormalizeURL(website) == "" {
		return model.ValidationInvalid
	}

	res, err := v.site.Probe(ctx, website, v.policy.DeepWebsiteCheck)
	if err != nil {
		return model.ValidationUnvalidated
	}
	if !res.Resolves {
		return model.ValidationInvalid
	}
	if v.policy.DeepWebsiteCheck && !res.Reachable {
		return model.ValidationUnvalidated
	}
	return model.ValidationValid
}
