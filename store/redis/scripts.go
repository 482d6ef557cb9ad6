package redis

import goredis "github.com/redis/go-redis/v9"

// claimScript promotes due delayed jobs to waiting, then pops the lowest
// scored waiting job and marks it active.
//
// KEYS: waiting, delayed, active, paused
// ARGV: queue, now (unix ms), now (RFC3339Nano), job key prefix
var claimScript = goredis.NewScript(`
if redis.call('SISMEMBER', KEYS[4], ARGV[1]) == 1 then
	return false
end
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
	local key = ARGV[4] .. id
	local score = redis.call('HGET', key, 'score')
	redis.call('ZREM', KEYS[2], id)
	if score then
		redis.call('ZADD', KEYS[1], score, id)
		redis.call('HSET', key, 'status', 'waiting')
	end
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
local id = popped[1]
local key = ARGV[4] .. id
redis.call('HSET', key, 'status', 'active', 'started_at', ARGV[3], 'heartbeat_at', ARGV[3],
	'updated_at', ARGV[3], 'finished_at', '')
redis.call('HINCRBY', key, 'attempts_made', 1)
redis.call('ZADD', KEYS[3], ARGV[2], id)
return id
`)

// transitionScript moves a job between status sets if it is currently in
// the expected status, then writes the given hash fields. A non-empty
// attempt fences the move on attempts_made; a non-empty stale cutoff also
// requires the job's score in the from set (its heartbeat) to be below it.
//
// KEYS: job hash, from set, to set
// ARGV: from status, to status, to score, attempt, stale before (unix ms),
// field/value pairs...
var transitionScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return redis.error_reply('NOTFOUND')
end
if status ~= ARGV[1] then
	return redis.error_reply('INVALID')
end
if ARGV[4] ~= '' and redis.call('HGET', KEYS[1], 'attempts_made') ~= ARGV[4] then
	return redis.error_reply('INVALID')
end
local id = redis.call('HGET', KEYS[1], 'id')
if ARGV[5] ~= '' then
	local beat = redis.call('ZSCORE', KEYS[2], id)
	if not beat or tonumber(beat) >= tonumber(ARGV[5]) then
		return redis.error_reply('INVALID')
	end
end
redis.call('ZREM', KEYS[2], id)
redis.call('ZADD', KEYS[3], ARGV[3], id)
local fields = {'status', ARGV[2]}
for i = 6, #ARGV do
	fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(fields))
return 1
`)

// touchScript writes a field on an active job without moving its status,
// fenced on attempts_made. When a score is given the job's rank in the
// active set is refreshed.
//
// KEYS: job hash, active set
// ARGV: field, value, score (or empty), attempt
var touchScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return redis.error_reply('NOTFOUND')
end
if status ~= 'active' or redis.call('HGET', KEYS[1], 'attempts_made') ~= ARGV[4] then
	return redis.error_reply('INVALID')
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if ARGV[3] ~= '' then
	redis.call('ZADD', KEYS[2], 'XX', ARGV[3], redis.call('HGET', KEYS[1], 'id'))
end
return 1
`)

// cleanScript deletes up to ARGV[3] jobs of a terminal set scored before
// ARGV[1] and returns how many were removed.
//
// KEYS: terminal set
// ARGV: before (unix ms), job key prefix, batch size
var cleanScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. id)
	redis.call('ZREM', KEYS[1], id)
end
return #ids
`)
