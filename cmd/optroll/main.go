package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"optroll/internal/broker"
	"optroll/internal/config"
	"optroll/internal/earnings"
	"optroll/internal/enrich"
	"optroll/internal/mail"
	"optroll/internal/models"
	"optroll/internal/report"
	"optroll/internal/rollover"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[OPTROLL] ", log.LstdFlags)

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("run failed: %v", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	runID := uuid.NewString()
	start := time.Now()
	logger.Printf("portfolio report run %s starting", runID)

	schwab := broker.NewSchwabAPI(broker.Session{AccessToken: cfg.Schwab.AccessToken}, logger)
	if cfg.Schwab.BaseURL != "" {
		schwab = schwab.WithBaseURL(cfg.Schwab.BaseURL)
	}
	chains := broker.NewCircuitBreakerChainProvider(schwab)

	sources := buildSources(cfg, schwab, logger)
	portfolio := ingest(sources, logger)
	logger.Printf("aggregated %d position(s) from %d source(s)", portfolio.Len(), len(sources))

	var earningsSrc broker.EarningsSource
	if cfg.Earnings.FinnhubToken != "" {
		client := earnings.NewFinnhubClient(cfg.Earnings.FinnhubToken, logger)
		if cfg.Earnings.BaseURL != "" {
			client = client.WithBaseURL(cfg.Earnings.BaseURL)
		}
		if cfg.Earnings.LookaheadDays > 0 {
			client = client.WithLookahead(cfg.Earnings.LookaheadDays)
		}
		earningsSrc = client
	} else {
		logger.Printf("no finnhub token configured, earnings countdowns disabled")
		earningsSrc = earnings.Disabled{}
	}

	enricher := enrich.NewEnricher(chains, schwab, earningsSrc, cfg.Enrich.EnricherConfig(), logger)
	enriched := enrichPortfolio(portfolio, enricher, logger)

	engine := rollover.NewEngine(chains, cfg.Rollover.Tiers, logger)
	builder := report.NewBuilder(engine, earningsSrc, logger)

	optionRows := builder.OptionRows(enriched)
	stockRows := builder.StockRows(enriched)
	data := report.Data{
		RunID:       runID,
		GeneratedAt: start,
		Options:     optionRows,
		Exposure:    report.Exposure(optionRows, stockRows),
		Stocks:      stockRows,
		Cash:        builder.CashRows(enriched),
	}

	html, err := report.RenderHTML(data)
	if err != nil {
		return err
	}

	if cfg.Report.OutputPath != "" {
		if err := os.WriteFile(cfg.Report.OutputPath, []byte(html), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Printf("report written to %s", cfg.Report.OutputPath)
	} else {
		fmt.Println(html)
	}

	subject := cfg.Report.Subject
	if subject == "" {
		subject = fmt.Sprintf("Options portfolio report %s", start.Format("2006-01-02"))
	}
	if err := mail.NewSender(cfg.Mail, logger).Send(subject, html); err != nil {
		// Delivery failure should not discard an already-written report.
		logger.Printf("email delivery failed: %v", err)
	}

	logger.Printf("run %s finished in %s", runID, time.Since(start).Round(time.Millisecond))
	return nil
}

// buildSources assembles every configured position source. Schwab is always
// present; the rest join when their config section is filled in.
func buildSources(cfg *config.Config, schwab *broker.SchwabAPI, logger *log.Logger) []broker.PositionSource {
	sources := []broker.PositionSource{schwab}

	if cfg.TradeStation.Enabled() {
		ts := broker.NewTradeStationAPI(broker.Session{
			AccessToken: cfg.TradeStation.AccessToken,
			AccountID:   cfg.TradeStation.AccountID,
		}, logger)
		if cfg.TradeStation.BaseURL != "" {
			ts = ts.WithBaseURL(cfg.TradeStation.BaseURL)
		}
		sources = append(sources, ts)
	}
	if cfg.Fidelity.Enabled() {
		sources = append(sources, broker.NewFidelityCSV(cfg.Fidelity.Files, logger))
	}
	for _, path := range cfg.IB.Files {
		sources = append(sources, broker.NewIBCSV(path, logger))
	}
	return sources
}

// ingest fetches each source sequentially and merges everything into one
// portfolio. A failing source is logged and skipped; the report still covers
// the sources that answered.
func ingest(sources []broker.PositionSource, logger *log.Logger) *models.Portfolio {
	portfolio := models.NewPortfolio()
	for _, src := range sources {
		positions, err := src.FetchPositions()
		if err != nil {
			logger.Printf("fetching positions from %s failed: %v; skipping source", src.Name(), err)
			continue
		}
		logger.Printf("%s: %d position(s)", src.Name(), len(positions))
		for _, pos := range positions {
			portfolio.Add(pos)
		}
	}
	return portfolio
}

// enrichPortfolio runs enrichment position by position. Expired options are
// dropped, failed enrichments keep the bare position so the stock and cash
// tables stay complete, and a single bad position never aborts the run.
func enrichPortfolio(pf *models.Portfolio, enricher *enrich.Enricher, logger *log.Logger) *models.Portfolio {
	out := models.NewPortfolio()
	for _, pos := range pf.Positions() {
		enrichedPos, err := enricher.Enrich(pos)
		if err != nil {
			logger.Printf("enrichment failed for %s: %v; keeping position without analytics", pos.Symbol, err)
			out.Add(pos)
			continue
		}
		if enrichedPos == nil {
			continue // expired, dropped
		}
		out.Add(enrichedPos)
	}
	return out
}
