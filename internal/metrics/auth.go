// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_logins_total",
		Help: "Admin login attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|locked|expired_password

	LockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_lockouts_total",
		Help: "Total number of admin lockouts triggered",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consultease_sessions_active",
		Help: "Number of live admin sessions",
	})

	PasswordRehashesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consultease_password_rehashes_total",
		Help: "Total number of legacy password hashes upgraded to bcrypt",
	})

	LookupCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consultease_lookup_cache_total",
		Help: "Student lookup cache requests by result",
	}, []string{"result"}) // result=hit|miss
)
