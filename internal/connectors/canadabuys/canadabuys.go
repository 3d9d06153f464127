// Package canadabuys matches NSNs against the CanadaBuys open tender notice
// CSV feed.
package canadabuys

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

const (
	// DefaultBaseURL is the open tender notices feed.
	DefaultBaseURL = "https://canadabuys.canada.ca/opendata/pub/openTenderNotice-ouvertAvisAppelOffres.csv"
	// DefaultFeedTTL bounds how long a downloaded feed is reused. CanadaBuys
	// refreshes it every two hours.
	DefaultFeedTTL = 30 * time.Minute

	siteRoot = "https://canadabuys.canada.ca"
)

// CSV column headers.
const (
	colTitle        = "title-titre-eng"
	colReference    = "referenceNumber-numeroReference"
	colSolicitation = "solicitationNumber-numeroSollicitation"
	colPublished    = "publicationDate-datePublication"
	colClosing      = "tenderClosingDate-appelOffresDateCloture"
	colStatus       = "tenderStatus-appelOffresStatut-eng"
	colCategory     = "procurementCategory-categorieApprovisionnement"
	colEntity       = "contractingEntityName-nomEntitContractante-eng"
	colContactName  = "contactInfoName-informationsContactNom"
	colContactEmail = "contactInfoEmail-informationsContactCourriel"
	colContactPhone = "contactInfoPhone-informationsContactTelephone"
	colDescription  = "tenderDescription-descriptionAppelOffres-eng"
	colNoticeURL    = "noticeURL-URLavis-eng"
)

var categories = map[string]string{
	"GD":     "Goods",
	"SRV":    "Services",
	"CNST":   "Construction",
	"SVRTGD": "Services related to goods",
}

// Config configures the connector.
type Config struct {
	BaseURL string
	// DaysBack drops tenders published earlier; zero keeps all.
	DaysBack int
	FeedTTL  time.Duration
}

// Connector implements sourcing.SourceConnector for CanadaBuys.
type Connector struct {
	cfg    Config
	client *resty.Client
	pacer  connectors.Pacer
	now    func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	tenders []sourcing.Opportunity
	loaded  time.Time
}

// New builds a CanadaBuys connector.
func New(cfg Config, client *resty.Client, pacer connectors.Pacer, now func() time.Time) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.FeedTTL <= 0 {
		cfg.FeedTTL = DefaultFeedTTL
	}
	if client == nil {
		client = connectors.NewRESTClient("", 60*time.Second)
	}
	if now == nil {
		now = time.Now
	}
	return &Connector{cfg: cfg, client: client, pacer: connectors.PacerOrNop(pacer), now: now}
}

// Name implements sourcing.SourceConnector.
func (c *Connector) Name() sourcing.Source { return sourcing.SourceCanadaBuys }

// Fetch returns the open tenders whose title or description mention item.
func (c *Connector) Fetch(ctx context.Context, item nsn.NSN) (sourcing.RawSourceRecord, error) {
	tenders, err := c.feed(ctx)
	if err != nil {
		return sourcing.RawSourceRecord{}, err
	}
	now := c.now()
	record := connectors.NewRecord(c.Name(), item, c.cfg.BaseURL, now)
	var cutoff string
	if c.cfg.DaysBack > 0 {
		cutoff = now.AddDate(0, 0, -c.cfg.DaysBack).Format("2006-01-02")
	}
	for _, t := range tenders {
		if !connectors.ContainsNSN(t.Title, item) && !connectors.ContainsNSN(t.Description, item) {
			continue
		}
		if cutoff != "" && t.PostedDate != "" && t.PostedDate < cutoff {
			continue
		}
		t.Description = truncate(t.Description, 500)
		record.Opportunities = append(record.Opportunities, t)
	}
	record.Attributes["feed_size"] = fmt.Sprint(len(tenders))
	return record, nil
}

func (c *Connector) feed(ctx context.Context) ([]sourcing.Opportunity, error) {
	c.mu.Lock()
	if c.tenders != nil && c.now().Sub(c.loaded) < c.cfg.FeedTTL {
		out := c.tenders
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("feed", func() (any, error) {
		tenders, err := c.download(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tenders, c.loaded = tenders, c.now()
		c.mu.Unlock()
		return tenders, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]sourcing.Opportunity), nil
}

func (c *Connector) download(ctx context.Context) ([]sourcing.Opportunity, error) {
	if err := c.pacer.Wait(ctx, c.cfg.BaseURL); err != nil {
		return nil, sourcing.AsConnectorError(c.Name(), 0, err)
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/csv,text/plain,*/*").
		SetDoNotParseResponse(true).
		Get(c.cfg.BaseURL)
	if err != nil {
		return nil, sourcing.AsConnectorError(c.Name(), 0, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 300 {
		return nil, sourcing.ConnectorErrorFromStatus(c.Name(), resp.StatusCode())
	}
	tenders, err := ParseCSV(body)
	if err != nil {
		return nil, sourcing.AsConnectorError(c.Name(), 0, err)
	}
	return tenders, nil
}

// ParseCSV decodes the tender feed into opportunities.
func ParseCSV(r io.Reader) ([]sourcing.Opportunity, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if err != nil {
		return nil, sourcing.NewConnectorError(sourcing.SourceCanadaBuys, sourcing.KindInvalid, 0, fmt.Errorf("read csv header: %w", err))
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	if _, ok := index[colTitle]; !ok {
		return nil, sourcing.NewConnectorError(sourcing.SourceCanadaBuys, sourcing.KindInvalid, 0, fmt.Errorf("csv header missing %q", colTitle))
	}

	tenders := []sourcing.Opportunity{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		get := func(col string) string {
			if i, ok := index[col]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		tenders = append(tenders, toOpportunity(get))
	}
	return tenders, nil
}

func toOpportunity(get func(string) string) sourcing.Opportunity {
	ref := get(colReference)
	opp := sourcing.Opportunity{
		Source:       sourcing.SourceCanadaBuys,
		Number:       get(colSolicitation),
		Title:        get(colTitle),
		Status:       get(colStatus),
		Organization: get(colEntity),
		PostedDate:   sourcing.NormalizeDate(get(colPublished)),
		URL:          get(colNoticeURL),
		ContactName:  get(colContactName),
		ContactEmail: get(colContactEmail),
		ContactPhone: get(colContactPhone),
		Description:  get(colDescription),
	}
	if opp.Number == "" {
		opp.Number = ref
	}
	if opp.Status == "" {
		opp.Status = "Open"
	}
	if closing := get(colClosing); len(closing) >= 10 {
		opp.ClosingDate = closing[:10]
	}
	code := strings.Trim(get(colCategory), "* ")
	if name, ok := categories[code]; ok {
		opp.Category = name
	} else {
		opp.Category = code
	}
	if opp.URL == "" && ref != "" {
		opp.URL = siteRoot + "/en/tender-opportunities/tender-notice/" + ref
	}
	return opp
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
