package gateway

import (
	"errors"
	"fmt"

	"github.com/nao1215/edgegate/pkg/pipeline"
	"github.com/nao1215/edgegate/pkg/routing"
)

// directHandler はゲートウェイ自身が応答する経路のハンドラ。
type directHandler func(c *pipeline.Context) pipeline.Outcome

// resolveStage はルーティングテーブルから経路を解決するステージを返す。
func resolveStage(table *routing.Table) pipeline.Stage {
	return pipeline.StageFunc("route", func(c *pipeline.Context) pipeline.Outcome {
		m, err := table.Resolve(c.Method(), c.Path())
		if err != nil {
			if errors.Is(err, routing.ErrNoRoute) {
				return pipeline.Fail(pipeline.NewError(pipeline.KindNoRoute, err))
			}
			return pipeline.Fail(pipeline.NewError(pipeline.KindInternal, err))
		}
		c.Route = m
		return pipeline.Continue()
	})
}

// dispatchStage は直接応答の経路をハンドラへ、それ以外をForwarderへ渡すステージを返す。
func dispatchStage(direct map[string]directHandler, fwd *Forwarder) pipeline.Stage {
	return pipeline.StageFunc("dispatch", func(c *pipeline.Context) pipeline.Outcome {
		if c.Route == nil {
			return pipeline.Fail(pipeline.NewError(pipeline.KindNoRoute, nil))
		}
		if !c.Route.Entry.Direct() {
			return fwd.Forward(c)
		}
		h, ok := direct[c.Route.Entry.Name]
		if !ok {
			return pipeline.Fail(pipeline.NewError(pipeline.KindInternal,
				fmt.Errorf("経路 %s のハンドラが登録されていません", c.Route.Entry.Name)))
		}
		return h(c)
	})
}
