// Package di contains dependency injection tokens for the arbitrage context.
package di

import (
	"github.com/fd1az/dex-arb-engine/business/arbitrage/app"
	"github.com/fd1az/dex-arb-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Engine = di.NewToken[*app.Engine]("arbitrage.Engine")
)

// Private dependency tokens - internal to arbitrage module
var (
	Detector = di.NewToken[*app.Detector]("arbitrage:detector")
	Router   = di.NewToken[*app.Router]("arbitrage:router")
	Executor = di.NewToken[*app.Executor]("arbitrage:executor")
	TxBuilder = di.NewToken[app.TxBuilder]("arbitrage:txBuilder")
	TradeLog  = di.NewToken[app.TradeLog]("arbitrage:tradeLog")
	Reporter  = di.NewToken[app.Reporter]("arbitrage:reporter")
)

// Helper functions for type-safe access
func GetEngine(c di.ServiceRegistry) *app.Engine {
	return di.GetToken(c, Engine)
}

func GetDetector(c di.ServiceRegistry) *app.Detector {
	return di.GetToken(c, Detector)
}

func GetRouter(c di.ServiceRegistry) *app.Router {
	return di.GetToken(c, Router)
}

func GetExecutor(c di.ServiceRegistry) *app.Executor {
	return di.GetToken(c, Executor)
}

func GetTxBuilder(c di.ServiceRegistry) app.TxBuilder {
	return di.GetToken(c, TxBuilder)
}

func GetTradeLog(c di.ServiceRegistry) app.TradeLog {
	return di.GetToken(c, TradeLog)
}

func GetReporter(c di.ServiceRegistry) app.Reporter {
	return di.GetToken(c, Reporter)
}
