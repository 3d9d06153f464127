// Package sourcing holds the domain model of the NSN sourcing pipeline: the
// records connectors return, the supplier merge, confidence scoring, the item
// state machine states, batch progress and the error taxonomy shared by every
// stage.
//
// Collaborators (source connectors, the contact enricher, progress stores and
// result sinks) are described by the interfaces in this package and
// implemented elsewhere, so the worker and dispatcher packages depend only on
// sourcing.
package sourcing
