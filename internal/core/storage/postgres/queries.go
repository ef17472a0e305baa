package postgres

// SQL for the behavior counter store. All dedup-guarded writes live in
// counter_adapter.go transactions; reads-before-writes ordering inside a
// transaction is part of the correctness contract, not an optimization.

const (
	// querySaveEvent appends one raw event. ON CONFLICT DO NOTHING returns
	// no rows (sql.ErrNoRows) for duplicate ids; RETURNING exposes the
	// monotonic ingest_seq.
	querySaveEvent = `
		INSERT INTO events (
			id, event_type, listing_id, owner_id, actor_id,
			session_id, conversation_id, occurred_at, ingested_at, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING ingest_seq
	`

	// --- dedup marker reads (first statements of every counter tx) ---

	queryViewDayMarkerExists = `
		SELECT EXISTS (
			SELECT 1 FROM view_day_markers
			WHERE listing_id = $1 AND session_id = $2 AND day = $3
		)
	`

	querySessionMarkerExists = `
		SELECT EXISTS (
			SELECT 1 FROM session_markers
			WHERE listing_id = $1 AND session_id = $2
		)
	`

	querySaveMarkerExists = `
		SELECT EXISTS (
			SELECT 1 FROM save_markers
			WHERE listing_id = $1 AND actor_id = $2
		)
	`

	queryMessageMarkerExists = `
		SELECT EXISTS (
			SELECT 1 FROM message_markers
			WHERE listing_id = $1 AND conversation_id = $2
		)
	`

	// --- dedup marker inserts ---

	queryInsertViewDayMarker = `
		INSERT INTO view_day_markers (listing_id, session_id, day, created_at)
		VALUES ($1, $2, $3, $4)
	`

	queryInsertSessionMarker = `
		INSERT INTO session_markers (listing_id, session_id, created_at)
		VALUES ($1, $2, $3)
	`

	queryInsertSaveMarker = `
		INSERT INTO save_markers (listing_id, actor_id, created_at)
		VALUES ($1, $2, $3)
	`

	queryInsertMessageMarker = `
		INSERT INTO message_markers (listing_id, conversation_id, created_at)
		VALUES ($1, $2, $3)
	`

	// --- day bucket merge-increments ---

	queryBumpDailyView = `
		INSERT INTO listing_daily_stats (listing_id, day, views, unique_sessions, saves, messages, last_view_at)
		VALUES ($1, $2, 1, 1, 0, 0, $3)
		ON CONFLICT (listing_id, day) DO UPDATE SET
			views           = listing_daily_stats.views + 1,
			unique_sessions = listing_daily_stats.unique_sessions + 1,
			last_view_at    = GREATEST(listing_daily_stats.last_view_at, EXCLUDED.last_view_at)
	`

	queryBumpDailySave = `
		INSERT INTO listing_daily_stats (listing_id, day, views, unique_sessions, saves, messages, last_save_at)
		VALUES ($1, $2, 0, 0, 1, 0, $3)
		ON CONFLICT (listing_id, day) DO UPDATE SET
			saves        = listing_daily_stats.saves + 1,
			last_save_at = GREATEST(listing_daily_stats.last_save_at, EXCLUDED.last_save_at)
	`

	queryBumpDailyMessage = `
		INSERT INTO listing_daily_stats (listing_id, day, views, unique_sessions, saves, messages, last_message_at)
		VALUES ($1, $2, 0, 0, 0, 1, $3)
		ON CONFLICT (listing_id, day) DO UPDATE SET
			messages        = listing_daily_stats.messages + 1,
			last_message_at = GREATEST(listing_daily_stats.last_message_at, EXCLUDED.last_message_at)
	`

	// queryTouchDailyView runs on the duplicate path: refresh the last-seen
	// timestamp without touching any counter.
	queryTouchDailyView = `
		UPDATE listing_daily_stats
		SET last_view_at = GREATEST(last_view_at, $3)
		WHERE listing_id = $1 AND day = $2
	`

	queryTouchDailySave = `
		UPDATE listing_daily_stats
		SET last_save_at = GREATEST(last_save_at, $3)
		WHERE listing_id = $1 AND day = $2
	`

	queryTouchDailyMessage = `
		UPDATE listing_daily_stats
		SET last_message_at = GREATEST(last_message_at, $3)
		WHERE listing_id = $1 AND day = $2
	`

	// --- lifetime snapshot merge-increments ---

	// queryBumpLifetime adds the per-metric deltas to the snapshot row.
	// Deltas are 0 or 1, decided inside the same transaction as the marker
	// reads that justify them.
	queryBumpLifetime = `
		INSERT INTO listing_metrics (
			listing_id, views_total, unique_sessions_total, saves_total, messages_total, last_seen_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (listing_id) DO UPDATE SET
			views_total           = listing_metrics.views_total + EXCLUDED.views_total,
			unique_sessions_total = listing_metrics.unique_sessions_total + EXCLUDED.unique_sessions_total,
			saves_total           = listing_metrics.saves_total + EXCLUDED.saves_total,
			messages_total        = listing_metrics.messages_total + EXCLUDED.messages_total,
			last_seen_at          = GREATEST(listing_metrics.last_seen_at, EXCLUDED.last_seen_at)
	`

	queryTouchLifetime = `
		UPDATE listing_metrics
		SET last_seen_at = GREATEST(last_seen_at, $2)
		WHERE listing_id = $1
	`

	// --- search filter usage (commutative, no read set) ---

	queryBumpFilterUsage = `
		INSERT INTO search_daily_usage (day, filter_key, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (day, filter_key) DO UPDATE SET
			used_count = search_daily_usage.used_count + 1
	`

	queryRecordAmenity = `
		INSERT INTO search_daily_amenities (day, amenity)
		VALUES ($1, $2)
		ON CONFLICT (day, amenity) DO NOTHING
	`

	// --- read side ---

	queryDayBucketsSince = `
		SELECT
			listing_id, day, views, unique_sessions, saves, messages,
			last_view_at, last_save_at, last_message_at
		FROM listing_daily_stats
		WHERE listing_id = $1
		  AND day >= $2
		ORDER BY day ASC
	`

	queryTopFilters = `
		SELECT filter_key, SUM(used_count) AS total
		FROM search_daily_usage
		WHERE day >= $1
		GROUP BY filter_key
		ORDER BY total DESC, filter_key ASC
		LIMIT $2
	`

	queryGetListing = `
		SELECT id, owner_id, title, price, city, created_at
		FROM listings
		WHERE id = $1
	`

	// --- snapshot reconciliation ---

	queryListActiveListings = `
		SELECT DISTINCT listing_id FROM listing_daily_stats
	`

	// queryRebuildSnapshot recomputes a lifetime snapshot from the
	// authoritative tables in one statement. GREATEST ignores NULLs, so a
	// listing with only views gets its last_view_at as last_seen_at.
	queryRebuildSnapshot = `
		INSERT INTO listing_metrics (
			listing_id, views_total, unique_sessions_total, saves_total, messages_total, last_seen_at
		)
		SELECT
			$1,
			COALESCE(SUM(views), 0),
			(SELECT COUNT(*) FROM session_markers WHERE listing_id = $1),
			COALESCE(SUM(saves), 0),
			COALESCE(SUM(messages), 0),
			GREATEST(MAX(last_view_at), MAX(last_save_at), MAX(last_message_at))
		FROM listing_daily_stats
		WHERE listing_id = $1
		ON CONFLICT (listing_id) DO UPDATE SET
			views_total           = EXCLUDED.views_total,
			unique_sessions_total = EXCLUDED.unique_sessions_total,
			saves_total           = EXCLUDED.saves_total,
			messages_total        = EXCLUDED.messages_total,
			last_seen_at          = GREATEST(listing_metrics.last_seen_at, EXCLUDED.last_seen_at)
	`
)
