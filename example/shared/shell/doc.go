// Package shell holds the application services of the example: a command handler that runs every
// command in its own EventContext and retries it when the commit hits a concurrency conflict.
package shell
