// Package pipeline turns a pipeline description into workers and edges.
package pipeline
