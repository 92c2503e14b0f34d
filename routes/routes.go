package routes

import (
	"seamless/controllers/callback/aix"
	"seamless/controllers/callback/cq9"
	"seamless/controllers/callback/gs5"
	"seamless/controllers/callback/jdb"
	"seamless/controllers/integrator"
	"seamless/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	IntegratorToken string
	Log             *zap.Logger
	Gatherer        prometheus.Gatherer

	Integrator *integrator.Handler
	Aix        *aix.Handler
	Gs5        *gs5.Handler
	Cq9        *cq9.Handler
	Jdb        *jdb.Handler
}

func Setup(app *fiber.App, d Deps) {
	app.Use(middlewares.RequestLogger(d.Log))

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// integrator
	api := app.Group("/api", middlewares.IntegratorAuth(d.IntegratorToken))
	api.Post("/:provider/play", d.Integrator.Play)
	api.Post("/:provider/visual", d.Integrator.Visual)

	//aix
	if d.Aix != nil {
		aixroutes := app.Group("/aix")
		aixroutes.Post("/balance", d.Aix.Balance)
		aixroutes.Post("/debit", d.Aix.Debit)
		aixroutes.Post("/credit", d.Aix.Credit)
		aixroutes.Post("/bonus", d.Aix.Bonus)
		aixroutes.Post("/cancel", d.Aix.Cancel)
	}

	//gs5
	if d.Gs5 != nil {
		gs5routes := app.Group("/gs5")
		gs5routes.Post("/balance", d.Gs5.Balance)
		gs5routes.Post("/bet", d.Gs5.Bet)
		gs5routes.Post("/result", d.Gs5.Result)
		gs5routes.Post("/bonus", d.Gs5.Bonus)
		gs5routes.Post("/refund", d.Gs5.Refund)
	}

	//cq9
	if d.Cq9 != nil {
		cq9routes := app.Group("/cq9")
		cq9routes.Get("/player/check/:account", d.Cq9.CheckPlayer)
		cq9routes.Get("/transaction/balance/:account", d.Cq9.Balance)
		cq9routes.Post("/transaction/game/bet", d.Cq9.Bet)
		cq9routes.Post("/transaction/game/endround", d.Cq9.EndRound)
		cq9routes.Post("/transaction/game/refund", d.Cq9.Refund)
		cq9routes.Post("/transaction/user/payoff", d.Cq9.Payoff)
	}

	//jdb
	if d.Jdb != nil {
		app.Post("/jdb/callback", d.Jdb.Callback)
	}
}
