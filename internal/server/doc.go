// Package server implements the HTTP surface of the app catalog drop:
// allowlisted whole-file saves, the update script trigger, static serving
// of the catalog editor, and the health, metrics and audit endpoints. It
// wires the optional Postgres audit and MinIO mirror behind circuit
// breakers.
package server
