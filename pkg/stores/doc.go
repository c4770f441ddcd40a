// Package stores persists run history. The sqlite store implements
// engine.Recorder and backs the history command of the CLI.
package stores
