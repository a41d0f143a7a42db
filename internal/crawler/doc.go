// Package crawler defines the core types, interfaces, and URL rules shared
// by the discovery engine, frontier stores, dispatcher, and pipeline that
// make up the dircrawl engine.
package crawler
