package gateway

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/pkg/routing"
)

// ゲートウェイ自身が応答する経路の名前。
const (
	routeHealth  = "health"
	routeReady   = "ready"
	routeMetrics = "metrics"
	routeLogin   = "login"
)

// buildRoutes は既定の経路と設定ファイルで追加された経路からルーティングテーブルを構築する。
func buildRoutes(cfg *config.Config) (*routing.Table, error) {
	revenue, err := url.Parse(cfg.Upstream.RevenueURL)
	if err != nil {
		return nil, fmt.Errorf("REVENUE_SERVICE_URLのパースに失敗: %w", err)
	}
	agents, err := url.Parse(cfg.Upstream.AgentsURL)
	if err != nil {
		return nil, fmt.Errorf("AGENTS_SERVICE_URLのパースに失敗: %w", err)
	}

	entries := []routing.Entry{
		{Name: routeHealth, Prefix: "/health", Methods: []string{http.MethodGet}},
		{Name: routeReady, Prefix: "/ready", Methods: []string{http.MethodGet}},
		{Name: routeMetrics, Prefix: "/metrics", Methods: []string{http.MethodGet}},
		{Name: routeLogin, Prefix: "/auth/login", Methods: []string{http.MethodPost}},
		{Name: "revenue", Prefix: "/api/revenue", Target: revenue, Rewrite: &routing.Rewrite{Replacement: "/revenue"}, Protected: true},
		{Name: "agents", Prefix: "/api/agents", Target: agents, Rewrite: &routing.Rewrite{}, Protected: true},
		{Name: "public-revenue", Prefix: "/public/revenue", Target: revenue, Rewrite: &routing.Rewrite{Replacement: "/revenue/current"}},
	}

	for _, r := range cfg.Routes {
		target, err := url.Parse(r.Target)
		if err != nil {
			return nil, fmt.Errorf("経路 %s の転送先のパースに失敗: %w", r.Name, err)
		}
		e := routing.Entry{
			Name:      r.Name,
			Prefix:    r.Prefix,
			Target:    target,
			Protected: r.Protected,
			Methods:   r.Methods,
		}
		switch {
		case r.Rewrite != "":
			e.Rewrite = &routing.Rewrite{Replacement: r.Rewrite}
		case r.StripPrefix:
			e.Rewrite = &routing.Rewrite{}
		}
		entries = append(entries, e)
	}

	return routing.NewTable(entries)
}
