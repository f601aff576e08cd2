package services

import "github.com/cockroachdb/errors"

var (
	// ErrStateQuery marks a failed container status query. The previous
	// known state is kept.
	ErrStateQuery = errors.New("failed to query container state")

	// ErrPreparation marks a failed repository or volume preparation.
	ErrPreparation = errors.New("failed to prepare service environment")

	// ErrConnectivity marks a dependency that stayed unreachable after the
	// bounded retries.
	ErrConnectivity = errors.New("dependency unreachable")

	// ErrUnresolvedDependency marks a dependsOn or provides reference that no
	// registered service satisfies.
	ErrUnresolvedDependency = errors.New("unresolved dependency")
)
