// Package api exposes the HTTP surface: question intake, answer
// publication, feeds, profiles, notifications, and the websocket upgrade
// path. Handlers stay thin; every business rule lives in the answer
// service or the store.
package api
