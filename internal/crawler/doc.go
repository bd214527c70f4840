// Package crawler adapts the gocolly collector into the fetch collaborator used
// by discovery, sitemap traversal and the product crawl: retries, proxy
// rotation, request caps and cancellation all live here.
package crawler
