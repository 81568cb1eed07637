// Package domain turns individual-level case events into daily and weekly
// case counts per municipality, county, and nation, normalized against yearly
// population figures.
//
// # Inputs
//
// Case events are one row per observed case: a calendar date and a
// municipality code such as "municip0301". Rows are never deduplicated;
// identical rows are independent cases.
//
// The location table maps every municipality to exactly one county:
//
//	municip_code  municip_name  county_code  county_name
//	municip0301   Oslo          county03     Oslo
//
// Population observations come from Statistics Norway (SSB) table 07459 with
// region labels like "K-0301 Oslo". The first token loses its two-character
// prefix and gains the "municip" marker, see [NormalizePopulationCode]. A year
// is read as an as-of timestamp at January 1 of that year.
//
// # Population resolution
//
// [PopulationResolver.AsOf] is an as-of join: the observation with the
// greatest timestamp at or before the query date wins; a later observation is
// never used for an earlier date. Observations before the retention boundary
// (2015-01-01 by default) are not indexed at all. A municipality with no
// qualifying observation gets an unavailable [Population], and unavailability
// propagates through county and national sums instead of counting as zero.
//
// # Roll-up
//
// Counties are the sum of their municipality rows for the same day; the
// nation is the sum of the county rows for the same day. A county only
// appears on days when at least one of its municipalities has cases. The
// datasets are sparse: days without events have no rows at any level.
//
// # Weekly buckets
//
// Weekly rows follow an epidemiological reporting convention: each date moves
// back seven days and falls into the week ending on the next Monday (a Monday
// ends its own week). Case counts are summed; population is the first
// available value in the bucket. See [WeekLabel].
package domain
