// SPDX-License-Identifier: ice License 1.0

package upgrade

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
)

// Public API.

const (
	ConfigKey = "upgrade"

	FailurePolicyKeep  FailurePolicy = "keep"
	FailurePolicyClose FailurePolicy = "close"
)

const (
	StateIdle State = iota
	StateDeciding
	StateTransitioning
	StateDisabled
)

var (
	ErrInvalidHTTPOrdering   = errors.New("invalid http ordering")
	ErrCandidateBuildFailure = errors.New("upgrade candidate failed to build its response")
	ErrTransitionFailed      = errors.New("upgrade transition failed")
)

type (
	// Capability is everything the Gate needs to know about one protocol it can switch to.
	Capability interface {
		// Protocol is the token the capability is registered under, compared case-insensitively.
		Protocol() string
		// RequiredHeaders must all be present in the request and named in its Connection header.
		RequiredHeaders() []string
		// BuildResponseHeaders must not have side effects; an error only disqualifies this capability.
		BuildResponseHeaders(req *http1.RequestHead, proposed *http1.Headers) (*http1.Headers, error)
		// Install adds the protocol's handlers after ctx. Messages that arrive meanwhile are held by the Gate.
		Install(ctx *pipeline.Context, req *http1.RequestHead) *eventloop.Future
	}
	// CompletionFunc is called once the 101 is out and the encoder is gone. It must not block.
	CompletionFunc func(ctx *pipeline.Context)
	FailurePolicy  string
	State          uint8

	// UpgradeComplete is fired downstream once the new protocol is installed, before any held message is replayed.
	UpgradeComplete struct {
		Request  *http1.RequestHead
		Protocol string
	}
	Config struct {
		FailurePolicy FailurePolicy `yaml:"failurePolicy"`
		Protocols     []string      `yaml:"protocols"`
	}
	Decision struct {
		Capability Capability
		Headers    *http1.Headers
		Protocol   string
	}
	// Registry is read-only once built, so one instance can be shared by every connection.
	Registry struct {
		capabilities map[string]Capability
	}
	// Gate inspects the first request of a connection and, if it asks for a registered protocol, switches to it.
	// It removes itself from the pipeline once it is done, whatever the outcome.
	Gate struct {
		registry     *Registry
		encoder      any
		onComplete   CompletionFunc
		metrics      *Metrics
		pending      *pendingUpgrade
		httpHandlers []any
		buffer       buffer
		policy       FailurePolicy
		state        State
	}
	Option  func(*Gate)
	Metrics struct {
		negotiations      *prometheus.CounterVec
		candidateFailures *prometheus.CounterVec
		transitions       *prometheus.CounterVec
		transitionTime    *prometheus.HistogramVec
		buffered          prometheus.Counter
	}
)

// Private API.

const (
	outcomeUpgraded      = "upgraded"
	outcomePassthrough   = "passthrough"
	outcomeOrderingError = "ordering_error"

	resultSuccess = "success"
	resultFailure = "failure"
)

type (
	pendingUpgrade struct {
		decision *Decision
		request  *http1.RequestHead
	}
	buffer struct {
		messages []any
	}
	// Keeps both a sentinel kind and the underlying cause reachable through errors.Is.
	kindError struct {
		kind   error
		cause  error
		detail string
	}
)
