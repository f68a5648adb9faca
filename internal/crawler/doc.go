// Package crawler defines the domain types, capability interfaces and error
// taxonomy shared by the ad library crawler subsystems: sessions, extraction,
// scoring, orchestration and the run/result store.
package crawler
