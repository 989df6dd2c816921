// Package inference binds the species-identification model to the pipeline.
// The Dispatcher pulls sealed chunks one at a time, invokes the configured
// Model and turns qualifying raw detections into Detection records.
package inference
