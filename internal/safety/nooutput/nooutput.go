// Package nooutput is the silent rule set: nothing is authenticated, nothing
// is transmitted and nothing is forwarded. It is the default before a vehicle
// mode is selected.
package nooutput

import (
	"can-safety-gateway/internal/models"
	"can-safety-gateway/internal/safety"
)

type variant struct{}

// New returns the silent variant.
func New() safety.Variant { return variant{} }

func (variant) Name() string               { return "nooutput" }
func (variant) Protocol() safety.Protocol  { return safety.Protocol{} }
func (variant) RxChecks() []safety.RxCheck { return nil }
func (variant) TxMsgs() []safety.TxMsg     { return nil }

func (variant) Rx(*safety.Engine, models.CANFrame) {}

func (variant) Tx(*safety.Engine, models.CANFrame) bool { return false }

func (variant) Fwd(*safety.Engine, int, models.CANFrame) (int, bool) { return -1, false }
