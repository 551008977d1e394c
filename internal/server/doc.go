// Package server hosts the Fiber HTTP service, request middleware chain, and
// the diagnostics surface that feeds platform signals (connectivity flips,
// install offers and choices) into the page-side components. It bootstraps
// Fiber, attaches logging and recovery middlewares, and routes every
// non-diagnostics request into the cache-first interceptor. Keep exports
// narrow and accept explicit dependencies so handlers stay injectable in
// tests.
package server
