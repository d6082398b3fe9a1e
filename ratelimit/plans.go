package ratelimit

import (
	"sort"
	"time"
)

// Window is the length of every plan's counting window.
const Window = time.Hour

// PlanFree is the plan unknown plan names fall back to.
const PlanFree = "free"

// Quota is the number of requests a plan allows per window.
type Quota struct {
	Plan     string        `json:"plan"`
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

var planTable = map[string]int{
	PlanFree:       10,
	"light":        100,
	"premium":      500,
	"premium-plus": 1000,
	"platinum":     10000,
}

// QuotaFor returns the quota of plan. Unrecognized plans get the free quota
// but keep their own name, so their windows stay separate from "free".
func QuotaFor(plan string) Quota {
	requests, ok := planTable[plan]
	if !ok {
		requests = planTable[PlanFree]
	}
	return Quota{Plan: plan, Requests: requests, Window: Window}
}

// KnownPlan reports whether plan is in the plan table.
func KnownPlan(plan string) bool {
	_, ok := planTable[plan]
	return ok
}

// Plans returns the plan table ordered by quota.
func Plans() []Quota {
	out := make([]Quota, 0, len(planTable))
	for plan, requests := range planTable {
		out = append(out, Quota{Plan: plan, Requests: requests, Window: Window})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Requests < out[j].Requests })
	return out
}
