// Package services defines shared utilities consumed by the recording session
// controller, its collaborators, and the daemon host.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs and correlation identifiers for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper so capture denial,
//     precondition violations, and submission failures can be classified with
//     errors.Is at every boundary.
//   - HTTPStatus, which translates those markers into control API responses.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the daemon and CLI.
package services
