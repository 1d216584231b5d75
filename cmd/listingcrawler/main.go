// Package main is the listingcrawler entrypoint.
//
// The binary runs a four-stage pipeline over a PostgreSQL work queue:
//   - scrape claims due queue rows, fetches them with a Colly probe (promoting
//     script-heavy pages to headless Chrome), archives the HTML and stores a
//     fetch result.
//   - parse extracts emails, phones, organisation numbers, addresses, opening
//     hours and social links into a scored snapshot and queues contact-like
//     sub-pages.
//   - detect-changes diffs each new snapshot against the previous one for the
//     listing and notifies the webhook and Pub/Sub sinks.
//   - requeue periodically resets aged, well-scored pages to pending.
//
// serve runs all of them plus the operations API. Configuration comes from an
// optional file, a .env file and CRAWLER_* environment variables.
package main

import "github.com/JakeFAU/listing-crawler/cmd"

func main() {
	cmd.Execute()
}
