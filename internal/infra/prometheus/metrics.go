package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcome labels.
const (
	OutcomeRedirect          = "redirect"
	OutcomeNotFound          = "not_found"
	OutcomeExpired           = "expired"
	OutcomeExhausted         = "exhausted"
	OutcomePasswordRequired  = "password_required"
	OutcomePasswordIncorrect = "password_incorrect"
	OutcomeError             = "error"
)

var (
	// LinksCreated counts successfully created short links.
	LinksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linksmith_links_created_total",
		Help: "Number of short links created.",
	})

	// LinksDeleted counts links deleted through the admin API.
	LinksDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linksmith_links_deleted_total",
		Help: "Number of short links deleted via the admin API.",
	})

	// Resolutions counts resolution attempts by outcome.
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linksmith_link_resolutions_total",
		Help: "Number of short link resolution attempts by outcome.",
	}, []string{"outcome"})
)
