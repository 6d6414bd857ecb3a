// Package crawler implements the listing discovery and product extraction
// stages of the harvester, along with the fetch, storage and pacing contracts
// they depend on.
package crawler
