package integration

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	TypeToggl        = "TogglIntegration"
	TypeJira         = "JiraIntegration"
	TypeGoogleSheets = "GoogleSheetsIntegration"

	// MaxScanPeriodDays caps how far back a Toggl import looks.
	MaxScanPeriodDays = 90
)

var ticketPrefixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Config is the decrypted configuration of one integration. The set of
// implementations is closed: TogglConfig, JiraConfig and GoogleSheetsConfig.
type Config interface {
	Type() string
	Cron() string
	Validate() error
	sealed()
}

// TogglConfig imports time entries from a Toggl Track workspace.
type TogglConfig struct {
	APIKey      string `json:"apiKey"`
	WorkspaceID int64  `json:"workspaceId"`
	CronPattern string `json:"cronPattern"`
	ScanPeriod  int    `json:"scanPeriod"`
	// UserEmailMap maps a Toggl user's email to the timesheet user's email.
	UserEmailMap map[string]string `json:"userEmailMap"`
	// CreateMissingUsers adds a timesheet user for a Toggl user no email matches.
	CreateMissingUsers bool `json:"createMissingUsers,omitempty"`
}

func (TogglConfig) Type() string   { return TypeToggl }
func (c TogglConfig) Cron() string { return c.CronPattern }
func (TogglConfig) sealed()        {}

func (c TogglConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return validationErrorf("toggl: apiKey is required")
	}
	if c.WorkspaceID <= 0 {
		return validationErrorf("toggl: workspaceId is required")
	}
	if c.ScanPeriod < 1 || c.ScanPeriod > MaxScanPeriodDays {
		return validationErrorf("toggl: scanPeriod must be between 1 and %d days", MaxScanPeriodDays)
	}
	if c.UserEmailMap == nil {
		return validationErrorf("toggl: userEmailMap is required")
	}
	return ValidateCron(c.CronPattern)
}

// JiraConfig resolves ticket-linked tasks against a Jira site.
type JiraConfig struct {
	BaseURL      string `json:"baseUrl"`
	Email        string `json:"email"`
	APIToken     string `json:"apiToken"`
	TicketPrefix string `json:"ticketPrefix"`
	CronPattern  string `json:"cronPattern"`
}

func (JiraConfig) Type() string   { return TypeJira }
func (c JiraConfig) Cron() string { return c.CronPattern }
func (JiraConfig) sealed()        {}

func (c JiraConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validationErrorf("jira: baseUrl %q must be an absolute http(s) URL", c.BaseURL)
	}
	if strings.TrimSpace(c.Email) == "" {
		return validationErrorf("jira: email is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return validationErrorf("jira: apiToken is required")
	}
	if !ticketPrefixPattern.MatchString(c.TicketPrefix) {
		return validationErrorf("jira: ticketPrefix %q must be upper-case letters, digits or underscores", c.TicketPrefix)
	}
	return ValidateCron(c.CronPattern)
}

// Host identifies the upstream for per-host throttling.
func (c JiraConfig) Host() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return strings.ToLower(u.Host)
}

// GoogleSheetsConfig commits settled timesheet entries to a spreadsheet.
type GoogleSheetsConfig struct {
	ServiceAccountJSON string `json:"serviceAccountJson"`
	SpreadsheetID      string `json:"spreadsheetId"`
	SheetName          string `json:"sheetName"`
	CommitDelayDays    int    `json:"commitDelayDays"`
	CronPattern        string `json:"cronPattern"`
}

func (GoogleSheetsConfig) Type() string   { return TypeGoogleSheets }
func (c GoogleSheetsConfig) Cron() string { return c.CronPattern }
func (GoogleSheetsConfig) sealed()        {}

func (c GoogleSheetsConfig) Validate() error {
	if strings.TrimSpace(c.ServiceAccountJSON) == "" || !json.Valid([]byte(c.ServiceAccountJSON)) {
		return validationErrorf("googleSheets: serviceAccountJson must be a JSON document")
	}
	if strings.TrimSpace(c.SpreadsheetID) == "" {
		return validationErrorf("googleSheets: spreadsheetId is required")
	}
	if strings.TrimSpace(c.SheetName) == "" {
		return validationErrorf("googleSheets: sheetName is required")
	}
	if c.CommitDelayDays < 0 {
		return validationErrorf("googleSheets: commitDelayDays must not be negative")
	}
	return ValidateCron(c.CronPattern)
}

// ParseConfig decodes a tagged config document, e.g. {"type":"JiraIntegration", ...}.
// The result is not validated.
func ParseConfig(data []byte) (Config, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode config"), ErrValidation)
	}

	var (
		cfg Config
		err error
	)
	switch probe.Type {
	case TypeToggl:
		var c TogglConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case TypeJira:
		var c JiraConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case TypeGoogleSheets:
		var c GoogleSheetsConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	default:
		return nil, validationErrorf("unknown integration type %q", probe.Type)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s config", probe.Type), ErrValidation)
	}
	return cfg, nil
}

// MarshalConfig encodes cfg with its "type" tag so ParseConfig can read it back.
func MarshalConfig(cfg Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	fields["type"], _ = json.Marshal(cfg.Type())
	return json.Marshal(fields)
}
