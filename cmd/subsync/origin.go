package main

import "net/url"

// hostOf returns the host[:port] of a base URL for websocket origin checks.
func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "localhost"
	}
	return u.Host
}
