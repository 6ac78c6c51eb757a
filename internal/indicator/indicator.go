// Package indicator provides incremental technical indicators over closed
// candles. Values are float64 rupees; candle prices arrive in paise.
package indicator

import "signalengine/internal/model"

func rupees(c model.Candle) float64 { return model.Rupees(c.Close) }
