// Package classifier assigns a support category to free text.
package classifier

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

// ErrNoSignal is returned when no keyword matched.
var ErrNoSignal = errors.New("classifier: no category signal in text")

// Predictor guesses a category from a ticket title and body.
type Predictor interface {
	Predict(ctx context.Context, title, body string) (domain.Category, error)
}

// keywords is the vocabulary per category. Title matches weigh double.
var keywords = map[domain.Category][]string{
	domain.CategoryCloud:          {"aws", "azure", "gcp", "cloud", "s3", "ec2", "lambda", "bucket"},
	domain.CategoryUnix:           {"linux", "unix", "ubuntu", "rhel", "centos", "ssh", "bash", "cron", "sudo"},
	domain.CategoryNetwork:        {"network", "vpn", "dns", "firewall", "router", "switch", "wifi", "latency", "proxy"},
	domain.CategoryDatabase:       {"database", "sql", "postgres", "mysql", "oracle", "query", "schema", "mongodb"},
	domain.CategoryApplication:    {"application", "app", "crash", "bug", "login", "page", "error"},
	domain.CategorySecurity:       {"security", "phishing", "malware", "virus", "breach", "password", "mfa", "certificate"},
	domain.CategoryVirtualization: {"vm", "vmware", "hypervisor", "esxi", "virtual", "hyper-v"},
	domain.CategoryStorage:        {"storage", "disk", "nas", "san", "volume", "quota", "filesystem"},
	domain.CategoryMonitoring:     {"monitoring", "alert", "grafana", "prometheus", "nagios", "dashboard", "metrics"},
	domain.CategoryDevOps:         {"pipeline", "jenkins", "deploy", "deployment", "kubernetes", "docker", "gitlab", "ci"},
	domain.CategoryHardware:       {"laptop", "printer", "monitor", "keyboard", "mouse", "hardware", "battery"},
	domain.CategoryEmail:          {"email", "outlook", "mailbox", "smtp", "exchange", "inbox"},
	domain.CategoryBackup:         {"backup", "restore", "snapshot", "recovery", "veeam"},
	domain.CategoryVendor:         {"vendor", "license", "licence", "contract", "supplier", "renewal"},
}

// KeywordPredictor scores categories by keyword hits.
type KeywordPredictor struct{}

// NewKeywordPredictor returns the default predictor.
func NewKeywordPredictor() *KeywordPredictor {
	return &KeywordPredictor{}
}

// Predict implements Predictor. Ties resolve to the earlier category in domain.Categories.
func (p *KeywordPredictor) Predict(ctx context.Context, title, body string) (domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	titleTokens := tokenize(title)
	bodyTokens := tokenize(body)

	var best domain.Category
	bestScore := 0
	for _, category := range domain.Categories {
		score := 0
		for _, kw := range keywords[category] {
			score += 2 * titleTokens[kw]
			score += bodyTokens[kw]
		}
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	if bestScore == 0 {
		return "", ErrNoSignal
	}
	return best, nil
}

func tokenize(s string) map[string]int {
	counts := map[string]int{}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, f := range fields {
		counts[strings.Trim(f, "-")]++
	}
	return counts
}

// PredictOrDefault returns the predicted category, or domain.DefaultCategory when
// prediction fails or yields an unknown value.
func PredictOrDefault(ctx context.Context, p Predictor, title, body string) (domain.Category, error) {
	if p == nil {
		return domain.DefaultCategory, nil
	}
	category, err := p.Predict(ctx, title, body)
	if err != nil {
		return domain.DefaultCategory, err
	}
	if parsed, ok := domain.ParseCategory(string(category)); ok {
		return parsed, nil
	}
	return domain.DefaultCategory, errors.New("classifier: unknown category " + string(category))
}
