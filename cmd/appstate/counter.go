package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/net/html"

	"github.com/tailored-agentic-units/appstate/app"
	"github.com/tailored-agentic-units/appstate/router"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/view"
)

const aboutText = `# appstate counter

A counter driven by a timer. Each tick adds *step* to the count.
Visit ` + "`/step/:n`" + ` to change the step.`

// number reads an integer field that may have been restored from JSON as a
// float64.
func number(s state.State, key string) int {
	switch v, _ := s.Get(key); n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

var tick = state.Func(func(s state.State) state.Delta {
	step := number(s, "step")
	if step == 0 {
		step = 1
	}
	return state.Delta{"count": number(s, "count") + step}
})

func counterRoutes() ([]router.Route, error) {
	about, err := view.Markdown(aboutText)
	if err != nil {
		return nil, fmt.Errorf("failed to render about page: %w", err)
	}

	return []router.Route{
		{
			Path:  "/",
			Title: "Counter",
			View: func(s state.State) *html.Node {
				return view.HTML("p", view.Attrs{"class": "count"},
					view.Text(fmt.Sprintf("count %d (step %d)", number(s, "count"), max(number(s, "step"), 1))),
				)
			},
		},
		{
			Path:  "about",
			Title: "About",
			View:  func(state.State) *html.Node { return about },
		},
		{
			Path:  "step/:n",
			Title: "Step",
			Params: func(p router.Params) state.Transformer {
				return state.TransformFunc(func(state.State) (state.Delta, error) {
					n, err := strconv.Atoi(p["n"])
					if err != nil {
						return nil, fmt.Errorf("invalid step %q: %w", p["n"], err)
					}
					return state.Delta{"step": n}, nil
				})
			},
			View: func(s state.State) *html.Node {
				return view.HTML("p", nil, view.Text(fmt.Sprintf("step set to %d", number(s, "step"))))
			},
		},
	}, nil
}

func counterView(s state.State) *html.Node {
	even := "odd"
	if v, _ := s.Get("even"); v == true {
		even = "even"
	}
	return view.HTML("main", view.Attrs{"data-parity": even},
		view.Content(s),
		view.SVG("svg", view.Attrs{"width": "100", "height": "4"},
			view.SVG("rect", view.Attrs{
				"width":  strconv.Itoa(number(s, "count") % 100),
				"height": "4",
			}),
		),
	)
}

func parity(_ context.Context, s state.State) (state.Delta, error) {
	return state.Delta{"even": number(s, "count")%2 == 0}, nil
}

// newCounter builds the counter machine with its derived parity field and
// logging effect registered before the first render.
func newCounter(cfg *app.Config, opts ...app.Option) (*app.Machine, error) {
	routes, err := counterRoutes()
	if err != nil {
		return nil, err
	}

	opts = append([]app.Option{
		app.WithRoutes(routes...),
		app.WithView(counterView),
		app.WithCalculation("parity", parity, "count"),
		app.WithEffect("log", func(_ context.Context, s state.State) {
			slog.Debug("count changed", "count", number(s, "count"))
		}, "count"),
	}, opts...)

	return app.New(cfg, map[string]any{"count": 0, "step": 1}, opts...)
}
