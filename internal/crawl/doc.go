// Package crawl sequences one ranking run: it resolves the ranking list through
// an acquisition mechanism, fetches each book's detail page at a fixed pace,
// then sorts and hands the collection to persistence. When the primary
// mechanism yields no list the run retries with the fallback mechanism.
package crawl
