// Package alberta searches Alberta Purchasing Connection opportunities for an
// NSN through its public JSON API.
package alberta

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// DefaultBaseURL is the APC site root.
const DefaultBaseURL = "https://purchasing.alberta.ca"

const maxPageSize = 200

var statusNames = map[string]string{
	"OPEN":       "Open",
	"CLOSED":     "Closed",
	"AWARD":      "Awarded",
	"CANCELLED":  "Cancelled",
	"EVALUATION": "Under Evaluation",
	"SELECTION":  "Selection",
	"EXPIRED":    "Expired",
}

// Config configures the connector.
type Config struct {
	BaseURL    string
	PageSize   int
	MaxResults int
	DaysBack   int
	// Contacts fetches the buyer contact for each match from the detail API.
	Contacts bool
}

// Connector implements sourcing.SourceConnector for Alberta Purchasing.
type Connector struct {
	cfg    Config
	client *resty.Client
	pacer  connectors.Pacer
	now    func() time.Time
	logger *zap.Logger
}

// New builds an Alberta Purchasing connector.
func New(cfg Config, client *resty.Client, pacer connectors.Pacer, now func() time.Time, logger *zap.Logger) *Connector {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = 100
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = cfg.PageSize
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
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, client: client, pacer: connectors.PacerOrNop(pacer), now: now, logger: logger}
}

// Name implements sourcing.SourceConnector.
func (c *Connector) Name() sourcing.Source { return sourcing.SourceAlberta }

type selectable struct {
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

type searchFilter struct {
	SolicitationNumber    string       `json:"solicitationNumber"`
	Categories            []selectable `json:"categories"`
	Statuses              []selectable `json:"statuses"`
	AgreementTypes        []selectable `json:"agreementTypes"`
	SolicitationTypes     []selectable `json:"solicitationTypes"`
	OpportunityTypes      []selectable `json:"opportunityTypes"`
	DeliveryRegions       []selectable `json:"deliveryRegions"`
	DeliveryRegion        string       `json:"deliveryRegion"`
	Organizations         []selectable `json:"organizations"`
	UNSPSC                []selectable `json:"unspsc"`
	PostDateRange         string       `json:"postDateRange"`
	CloseDateRange        string       `json:"closeDateRange"`
	OnlyBookmarked        bool         `json:"onlyBookmarked"`
	OnlyInterestExpressed bool         `json:"onlyInterestExpressed"`
}

type sortOption struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type searchRequest struct {
	Query       string       `json:"query"`
	QueryMode   string       `json:"queryMode"`
	Filter      searchFilter `json:"filter"`
	Limit       int          `json:"limit"`
	Offset      int          `json:"offset"`
	SortOptions []sortOption `json:"sortOptions"`
}

type searchResponse struct {
	TotalCount int           `json:"totalCount"`
	Values     []opportunity `json:"values"`
}

type opportunity struct {
	ReferenceNumber         string `json:"referenceNumber"`
	SolicitationNumber      string `json:"solicitationNumber"`
	Title                   string `json:"title"`
	ShortTitle              string `json:"shortTitle"`
	StatusCode              string `json:"statusCode"`
	PostDateTime            string `json:"postDateTime"`
	CloseDateTime           string `json:"closeDateTime"`
	ContractingOrganization string `json:"contractingOrganization"`
	CategoryCode            string `json:"categoryCode"`
	ProjectDescription      string `json:"projectDescription"`
}

// postDateRange maps a look-back window onto the API's preset ranges.
func postDateRange(daysBack int) string {
	switch {
	case daysBack <= 1:
		return "$$last24Hours"
	case daysBack <= 7:
		return "$$last7Days"
	case daysBack <= 30:
		return "$$last30Days"
	case daysBack <= 365:
		return "$$lastYear"
	default:
		return "$$custom"
	}
}

func (c *Connector) request(item nsn.NSN, offset int) searchRequest {
	empty := []selectable{}
	return searchRequest{
		Query:     item.Dashed(),
		QueryMode: "standard",
		Filter: searchFilter{
			Categories:        empty,
			Statuses:          []selectable{{Value: "OPEN", Selected: true}},
			AgreementTypes:    empty,
			SolicitationTypes: empty,
			OpportunityTypes:  empty,
			DeliveryRegions:   empty,
			Organizations:     empty,
			UNSPSC:            empty,
			PostDateRange:     postDateRange(c.cfg.DaysBack),
			CloseDateRange:    "$$custom",
		},
		Limit:       c.cfg.PageSize,
		Offset:      offset,
		SortOptions: []sortOption{{Field: "PostDateTime", Direction: "desc"}},
	}
}

// Fetch searches open opportunities mentioning item.
func (c *Connector) Fetch(ctx context.Context, item nsn.NSN) (sourcing.RawSourceRecord, error) {
	endpoint := c.cfg.BaseURL + "/api/opportunity/search"
	record := connectors.NewRecord(c.Name(), item, endpoint, c.now())

	total := 0
	for offset := 0; offset < c.cfg.MaxResults; offset += c.cfg.PageSize {
		if err := c.pacer.Wait(ctx, endpoint); err != nil {
			return sourcing.RawSourceRecord{}, sourcing.AsConnectorError(c.Name(), 0, err)
		}
		var body searchResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(c.request(item, offset)).
			SetResult(&body).
			Post(endpoint)
		if err := connectors.CheckResponse(c.Name(), resp, err); err != nil {
			return sourcing.RawSourceRecord{}, err
		}
		total = body.TotalCount
		for _, raw := range body.Values {
			if len(record.Opportunities) >= c.cfg.MaxResults {
				break
			}
			record.Opportunities = append(record.Opportunities, c.toOpportunity(raw))
		}
		if len(body.Values) == 0 || offset+c.cfg.PageSize >= total {
			break
		}
	}
	record.Attributes["total_count"] = fmt.Sprint(total)

	if c.cfg.Contacts {
		for i := range record.Opportunities {
			c.addContact(ctx, &record.Opportunities[i])
		}
	}
	return record, nil
}

func (c *Connector) toOpportunity(raw opportunity) sourcing.Opportunity {
	opp := sourcing.Opportunity{
		Source:       sourcing.SourceAlberta,
		Number:       raw.SolicitationNumber,
		Title:        raw.ShortTitle,
		Status:       raw.StatusCode,
		Organization: raw.ContractingOrganization,
		Category:     raw.CategoryCode,
		PostedDate:   sourcing.NormalizeDate(raw.PostDateTime),
		ClosingDate:  sourcing.NormalizeDate(raw.CloseDateTime),
		Description:  raw.ProjectDescription,
	}
	if opp.Title == "" {
		opp.Title = raw.Title
	}
	if name, ok := statusNames[raw.StatusCode]; ok {
		opp.Status = name
	}
	if opp.Number == "" {
		opp.Number = raw.ReferenceNumber
	}
	if raw.ReferenceNumber != "" {
		opp.URL = c.cfg.BaseURL + "/posting/" + raw.ReferenceNumber
	}
	if r := []rune(opp.Description); len(r) > 500 {
		opp.Description = string(r[:500])
	}
	return opp
}

var referenceRe = regexp.MustCompile(`^AB-(\d{4})-0*(\d+)$`)

type detailResponse struct {
	Opportunity struct {
		ContactInformation struct {
			FirstName    string `json:"firstName"`
			LastName     string `json:"lastName"`
			EmailAddress string `json:"emailAddress"`
			PhoneNumber  string `json:"phoneNumber"`
		} `json:"contactInformation"`
	} `json:"opportunity"`
}

// addContact fills the buyer contact from the detail API. Failures only lose
// the contact.
func (c *Connector) addContact(ctx context.Context, opp *sourcing.Opportunity) {
	ref := strings.TrimPrefix(opp.URL, c.cfg.BaseURL+"/posting/")
	m := referenceRe.FindStringSubmatch(ref)
	if m == nil {
		return
	}
	endpoint := fmt.Sprintf("%s/api/opportunity/public/%s/%s", c.cfg.BaseURL, m[1], m[2])
	if err := c.pacer.Wait(ctx, endpoint); err != nil {
		return
	}
	var body detailResponse
	resp, err := c.client.R().SetContext(ctx).SetResult(&body).Get(endpoint)
	if err := connectors.CheckResponse(c.Name(), resp, err); err != nil {
		c.logger.Debug("alberta detail lookup failed", zap.String("reference", ref), zap.Error(err))
		return
	}
	contact := body.Opportunity.ContactInformation
	opp.ContactName = strings.TrimSpace(strings.TrimSpace(contact.FirstName) + " " + strings.TrimSpace(contact.LastName))
	opp.ContactEmail = strings.TrimSpace(contact.EmailAddress)
	opp.ContactPhone = strings.TrimSpace(contact.PhoneNumber)
}
