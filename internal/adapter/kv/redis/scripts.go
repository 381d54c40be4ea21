package redis

// The six server-side Lua scripts backing the KV port. Each script runs
// atomically on the Redis server, which is what linearizes concurrent
// multi-key updates without client-side locking.

// ipCounterBatchScript implements IP_COUNTER_BATCH(KEYS=counter_keys,
// ARGV=[expire_s, max_ip_limit, base_mult, low_mult]): increments each
// key, refreshes its TTL, and returns base_multiplier if
// max_ip_limit < 0 or count <= max_ip_limit, else low_multiplier.
const ipCounterBatchScript = `
local expire_s = tonumber(ARGV[1])
local max_ip_limit = tonumber(ARGV[2])
local base_mult = tonumber(ARGV[3])
local low_mult = tonumber(ARGV[4])

local out = {}
for i, key in ipairs(KEYS) do
  local count = redis.call("INCR", key)
  redis.call("EXPIRE", key, expire_s)
  if max_ip_limit < 0 or count <= max_ip_limit then
    out[i] = base_mult
  else
    out[i] = low_mult
  end
end
return out
`

// scoreUpdateBatchScript implements
// SCORE_UPDATE_BATCH(ARGV=[topic_id, win, lose, mult]*): rejects a
// non-multiple-of-4 argument count, then per update performs
// HINCRBY op_stats {win}:win mult, HINCRBY op_stats {lose}:lose mult,
// HINCRBY op_matrix {win}:{lose} mult, HINCRBY op_matrix {lose}:{win} -mult,
// INCR valid_ballots_count — all keys namespaced by topic_id.
const scoreUpdateBatchScript = `
if #ARGV % 4 ~= 0 then
  return redis.error_reply("SCORE_UPDATE_BATCH: argument count must be a multiple of 4")
end

for i = 1, #ARGV, 4 do
  local topic_id = ARGV[i]
  local win = ARGV[i+1]
  local lose = ARGV[i+2]
  local mult = tonumber(ARGV[i+3])

  redis.call("HINCRBY", topic_id .. ":op_stats", win .. ":win", mult)
  redis.call("HINCRBY", topic_id .. ":op_stats", lose .. ":lose", mult)
  redis.call("HINCRBY", topic_id .. ":op_matrix", win .. ":" .. lose, mult)
  redis.call("HINCRBY", topic_id .. ":op_matrix", lose .. ":" .. win, -mult)
  redis.call("INCR", topic_id .. ":valid_ballots_count")
end
return "OK"
`

// record1v1BatchScript implements
// RECORD_1V1_BATCH(ARGV=[topic_id, min_id, max_id]*): HINCRBY
// op_counter {min}:{max} 1 per pair.
const record1v1BatchScript = `
if #ARGV % 3 ~= 0 then
  return redis.error_reply("RECORD_1V1_BATCH: argument count must be a multiple of 3")
end

for i = 1, #ARGV, 3 do
  local topic_id = ARGV[i]
  local min_id = ARGV[i+1]
  local max_id = ARGV[i+2]
  redis.call("HINCRBY", topic_id .. ":op_counter", min_id .. ":" .. max_id, 1)
end
return "OK"
`

// finalOrderScript implements FINAL_ORDER(KEYS=[topic_id], ARGV=fields):
// HMGET {topic_id}:op_stats fields..., GET {topic_id}:valid_ballots_count,
// returning [stats_values, total_valid_ballots].
const finalOrderScript = `
local topic_id = KEYS[1]
local stats = redis.call("HMGET", topic_id .. ":op_stats", unpack(ARGV))
local total = redis.call("GET", topic_id .. ":valid_ballots_count")
if total == false then
  total = 0
end
return { stats, total }
`

// getDelManyScript implements GET_DEL_MANY(KEYS=keys): returns
// [value_or_nil, ...] and deletes every key that was present.
const getDelManyScript = `
local out = {}
for i, key in ipairs(KEYS) do
  out[i] = redis.call("GET", key)
  if out[i] ~= false then
    redis.call("DEL", key)
  end
end
return out
`

// delMultipleScript implements DEL_MULTIPLE(KEYS=keys).
const delMultipleScript = `
for _, key in ipairs(KEYS) do
  redis.call("DEL", key)
end
return "OK"
`
