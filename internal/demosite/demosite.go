// Package demosite serves a tiny website with deliberate defects in every
// category the scanner detects. Point a scan at it to see a full report.
package demosite

import (
	"fmt"
	"net/http"
)

const homePage = `<!DOCTYPE html>
<html lang="en">
<head><title>Demo Shop</title></head>
<body>
	<h1>Demo Shop</h1>
	<img src="/images/hero.png" alt="Hero banner">
	<div style="width: 2200px">This banner is wider than any viewport.</div>
	<p><a href="/about">About us</a></p>
	<p><a href="/missing-page">Old promotion</a></p>
	<p><a href="mailto:demo@example.com">Mail us</a></p>
	<script>
		console.error("cart state is undefined");
		fetch("/api/stock").catch(() => {});
	</script>
</body>
</html>`

const aboutPage = `<!DOCTYPE html>
<html lang="en">
<head><title>About - Demo Shop</title></head>
<body>
	<h1>About</h1>
	<img src="">
	<p><a href="/">Back home</a></p>
	<script>null.describe();</script>
</body>
</html>`

// Handler returns the demo site's HTTP handler.
func Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, homePage)
	})

	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, aboutPage)
	})

	// /images/hero.png and /missing-page intentionally 404.
	// /api/stock fails server-side.
	mux.HandleFunc("/api/stock", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stock backend unavailable", http.StatusInternalServerError)
	})

	return mux
}

// ListenAndServe runs the demo site on addr.
func ListenAndServe(addr string) error {
	fmt.Printf("Demo site listening on http://localhost%s\n", addr)
	return http.ListenAndServe(addr, Handler())
}
