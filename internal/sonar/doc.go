// Package sonar groups the contact-processing chain. Each stage lives in its
// own subpackage:
//
//	array     element geometry and steering vectors
//	beamform  delay-and-sum and MVDR beamformers
//	detect    matched filtering, CFAR, and the bearing scanner
//	track     Kalman multi-target tracker and data association
//	classify  spectral feature extraction and naive Bayes labelling
//	pipeline  per-ping orchestration of the stages above
//	sonardb   SQLite persistence for detections, tracks, and observations
//
// Data flows top to bottom: a ping snapshot is beamformed across the bearing
// grid, detections become world-frame observations, the tracker maintains
// contact state across pings, and the classifier attaches labels. Stages
// communicate through plain values, so each package is usable on its own.
package sonar
