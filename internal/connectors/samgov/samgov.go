// Package samgov searches the SAM.gov public opportunities API for an NSN.
package samgov

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

const (
	// DefaultBaseURL is the v2 opportunities search endpoint.
	DefaultBaseURL = "https://api.sam.gov/opportunities/v2/search"

	dateLayout = "01/02/2006"
	maxLimit   = 1000
	maxPages   = 3
)

// Config configures the connector.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	DaysBack int
}

// Connector implements sourcing.SourceConnector for SAM.gov.
type Connector struct {
	cfg    Config
	client *resty.Client
	pacer  connectors.Pacer
	now    func() time.Time
}

// New builds a SAM.gov connector. The API key is required; callers skip the
// source entirely when none is configured.
func New(cfg Config, client *resty.Client, pacer connectors.Pacer, now func() time.Time) (*Connector, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("samgov: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.PageSize > maxLimit {
		cfg.PageSize = maxLimit
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 365
	}
	if client == nil {
		client = connectors.NewRESTClient("", 30*time.Second)
	}
	if now == nil {
		now = time.Now
	}
	return &Connector{cfg: cfg, client: client, pacer: connectors.PacerOrNop(pacer), now: now}, nil
}

// Name implements sourcing.SourceConnector.
func (c *Connector) Name() sourcing.Source { return sourcing.SourceSAMGov }

type searchResponse struct {
	TotalRecords      int           `json:"totalRecords"`
	OpportunitiesData []opportunity `json:"opportunitiesData"`
}

type opportunity struct {
	NoticeID           string           `json:"noticeId"`
	Title              string           `json:"title"`
	SolicitationNumber string           `json:"solicitationNumber"`
	FullParentPathName string           `json:"fullParentPathName"`
	PostedDate         string           `json:"postedDate"`
	ResponseDeadLine   string           `json:"responseDeadLine"`
	Type               string           `json:"type"`
	SetAside           string           `json:"typeOfSetAsideDescription"`
	NAICSCode          string           `json:"naicsCode"`
	ClassificationCode string           `json:"classificationCode"`
	Active             string           `json:"active"`
	UILink             string           `json:"uiLink"`
	Description        string           `json:"description"`
	PointOfContact     []pointOfContact `json:"pointOfContact"`
	ResourceLinks      []string         `json:"resourceLinks"`
}

type pointOfContact struct {
	Type     string `json:"type"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// Fetch searches opportunities whose title mentions item.
func (c *Connector) Fetch(ctx context.Context, item nsn.NSN) (sourcing.RawSourceRecord, error) {
	now := c.now()
	record := connectors.NewRecord(c.Name(), item, c.cfg.BaseURL, now)
	params := map[string]string{
		"api_key":    c.cfg.APIKey,
		"postedFrom": now.AddDate(0, 0, -c.cfg.DaysBack).Format(dateLayout),
		"postedTo":   now.Format(dateLayout),
		"limit":      strconv.Itoa(c.cfg.PageSize),
		"title":      item.Dashed(),
	}

	total := 0
	for page := 0; page < maxPages; page++ {
		params["offset"] = strconv.Itoa(page * c.cfg.PageSize)
		if err := c.pacer.Wait(ctx, c.cfg.BaseURL); err != nil {
			return sourcing.RawSourceRecord{}, sourcing.AsConnectorError(c.Name(), 0, err)
		}
		var body searchResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetHeader("Accept", "application/json").
			SetResult(&body).
			Get(c.cfg.BaseURL)
		if err := connectors.CheckResponse(c.Name(), resp, err); err != nil {
			return sourcing.RawSourceRecord{}, err
		}
		for _, opp := range body.OpportunitiesData {
			record.Opportunities = append(record.Opportunities, toOpportunity(opp))
		}
		total = body.TotalRecords
		if len(body.OpportunitiesData) < c.cfg.PageSize || len(record.Opportunities) >= total {
			break
		}
	}
	record.Attributes["total_records"] = strconv.Itoa(total)
	return record, nil
}

func toOpportunity(o opportunity) sourcing.Opportunity {
	out := sourcing.Opportunity{
		Source:       sourcing.SourceSAMGov,
		Number:       o.SolicitationNumber,
		Title:        o.Title,
		Status:       "Closed",
		Category:     o.Type,
		PostedDate:   sourcing.NormalizeDate(o.PostedDate),
		ClosingDate:  sourcing.NormalizeDate(o.ResponseDeadLine),
		URL:          o.UILink,
		Description:  o.Description,
		DocumentURLs: o.ResourceLinks,
	}
	if strings.EqualFold(o.Active, "yes") {
		out.Status = "Open"
	}
	if out.Number == "" {
		out.Number = o.NoticeID
	}
	if out.URL == "" && o.NoticeID != "" {
		out.URL = "https://sam.gov/opp/" + o.NoticeID + "/view"
	}
	if parts := strings.Split(o.FullParentPathName, "."); len(parts) > 0 {
		out.Organization = strings.TrimSpace(parts[0])
	}
	if poc, ok := primaryContact(o.PointOfContact); ok {
		out.ContactName = poc.FullName
		out.ContactEmail = poc.Email
		out.ContactPhone = poc.Phone
	}
	return out
}

func primaryContact(pocs []pointOfContact) (pointOfContact, bool) {
	for _, p := range pocs {
		if strings.EqualFold(p.Type, "primary") {
			return p, true
		}
	}
	if len(pocs) > 0 {
		return pocs[0], true
	}
	return pointOfContact{}, false
}
