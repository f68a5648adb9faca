// Package extract turns Ad Library search pages into candidate records.
//
// Pipeline drives a crawler.Session through one (term, region) unit:
// navigate, reveal lazily loaded items with paced scrolls, snapshot the DOM
// and hand it to AdLibraryExtractor. Each listing item yields a typed
// Outcome so that one unreadable item never costs the rest of the page.
package extract
