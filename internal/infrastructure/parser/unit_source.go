package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"AdRelister/internal/config"
	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

const (
	idPlaceholder   = "{id}"
	defaultPageSize = 20
	maxPages        = 50
)

// UnitSource scrapes the live ad list of one physical unit, in display order.
type UnitSource struct {
	client *http.Client
	cfg    config.ArticlesConfig
	logger *slog.Logger
}

var _ ports.ArticleSource = (*UnitSource)(nil)

// NewUnitSource wires an HTTP client; a nil client gets the configured timeout.
func NewUnitSource(cfg config.ArticlesConfig, client *http.Client, logger *slog.Logger) *UnitSource {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &UnitSource{client: client, cfg: cfg, logger: logger}
}

// FetchUnitArticles walks the unit's pages until a short page and returns every ad once.
func (s *UnitSource) FetchUnitArticles(ctx context.Context, representativeID string) ([]domain.Article, error) {
	if strings.TrimSpace(representativeID) == "" {
		return nil, fmt.Errorf("representative id is empty")
	}
	if !strings.Contains(s.cfg.UnitURL, idPlaceholder) {
		return nil, fmt.Errorf("unit url %q has no %s placeholder", s.cfg.UnitURL, idPlaceholder)
	}
	base := strings.ReplaceAll(s.cfg.UnitURL, idPlaceholder, url.PathEscape(representativeID))

	var (
		results []domain.Article
		seen    = map[string]struct{}{}
	)
	for page := 1; page <= maxPages; page++ {
		pageURL, err := buildPageURL(base, page, s.cfg.PageSize)
		if err != nil {
			return nil, err
		}

		doc, err := s.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("unit %s page %d: %w", representativeID, page, err)
		}

		pageArticles := extractArticles(doc, s.cfg.Selectors)
		added := 0
		for _, article := range pageArticles {
			if _, ok := seen[article.ID]; ok {
				continue
			}
			seen[article.ID] = struct{}{}
			results = append(results, article)
			added++
		}
		s.debug("unit page parsed", "unit", representativeID, "page", page, "rows", len(pageArticles), "added", added)

		if len(pageArticles) < s.cfg.PageSize || added == 0 {
			break
		}
	}

	return results, nil
}

func (s *UnitSource) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketplace returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func extractArticles(doc *goquery.Document, sel config.SelectorsConfig) []domain.Article {
	var collected []domain.Article
	doc.Find(sel.Item).Each(func(_ int, row *goquery.Selection) {
		article, ok := parseRow(row, sel)
		if !ok {
			return
		}
		collected = append(collected, article)
	})
	return collected
}

func parseRow(row *goquery.Selection, sel config.SelectorsConfig) (domain.Article, bool) {
	id := rowID(row, sel)
	if id == "" {
		return domain.Article{}, false
	}

	return domain.Article{
		ID:               id,
		ConfirmationDate: field(row, sel.ConfirmationDate),
		PriceText:        field(row, sel.Price),
		FloorText:        field(row, sel.Floor),
		BrokerName:       field(row, sel.Broker),
		VerificationCode: field(row, sel.VerificationCode),
	}, true
}

func rowID(row *goquery.Selection, sel config.SelectorsConfig) string {
	target := row
	if sel.ID != "" {
		if found := row.Find(sel.ID).First(); found.Length() > 0 {
			target = found
		}
	}
	if sel.IDAttr != "" {
		if v, ok := target.Attr(sel.IDAttr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if v, ok := row.Attr(sel.IDAttr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return ""
	}
	return strings.TrimSpace(target.Text())
}

func field(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(row.Find(selector).First().Text()), " ")
}

func buildPageURL(base string, page, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid unit url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (s *UnitSource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
