package redis

const (
	// insertCompScript atomically stores a comp, indexes it under its day and
	// adds it to the day totals. Returns 0 if the comp already exists.
	insertCompScript = `
local comp_key = KEYS[1]        -- comptrack:comp:{id}
local day_index = KEYS[2]       -- comptrack:comps:day:{day}
local totals_key = KEYS[3]      -- comptrack:day:{day}:totals
local days_key = KEYS[4]        -- comptrack:days
local seq_key = KEYS[5]         -- comptrack:comps:seq

local id = ARGV[1]
local waiter = ARGV[2]
local reason = ARGV[3]
local amount = tonumber(ARGV[4])
local note = ARGV[5]
local issued_by = ARGV[6]
local created_at = ARGV[7]
local day = ARGV[8]
local turn = ARGV[9]
local day_score = tonumber(ARGV[10])

if redis.call('EXISTS', comp_key) == 1 then
  return 0
end

-- Sequence keeps creation order stable within a day
local seq = redis.call('INCR', seq_key)

redis.call('HSET', comp_key,
  'id', id,
  'waiter', waiter,
  'reason', reason,
  'amount_cents', amount,
  'note', note,
  'issued_by', issued_by,
  'created_at', created_at,
  'day', day,
  'turn', turn,
  'seq', seq
)

redis.call('ZADD', day_index, seq, id)

redis.call('HINCRBY', totals_key, 'count', 1)
redis.call('HINCRBY', totals_key, 'total_cents', amount)
redis.call('HINCRBY', totals_key, 'waiter:' .. waiter, amount)
redis.call('HINCRBY', totals_key, 'reason:' .. reason, amount)
redis.call('HINCRBY', totals_key, 'turn:' .. turn, amount)

redis.call('ZADD', days_key, day_score, day)

return 1
`

	// deleteCompScript atomically removes a comp and reverses its
	// contribution to the day totals. A day left without comps is dropped
	// from the day list. Returns 0 if the comp does not exist.
	deleteCompScript = `
local comp_key = KEYS[1]        -- comptrack:comp:{id}
local day_index = KEYS[2]       -- comptrack:comps:day:{day}
local totals_key = KEYS[3]      -- comptrack:day:{day}:totals
local days_key = KEYS[4]        -- comptrack:days

local id = ARGV[1]

local fields = redis.call('HMGET', comp_key, 'waiter', 'reason', 'amount_cents', 'turn', 'day')
if not fields[3] then
  return 0
end

local amount = tonumber(fields[3])

local function decr(field)
  local left = redis.call('HINCRBY', totals_key, field, -amount)
  if left == 0 then
    redis.call('HDEL', totals_key, field)
  end
end

decr('waiter:' .. fields[1])
decr('reason:' .. fields[2])
decr('turn:' .. fields[4])
redis.call('HINCRBY', totals_key, 'total_cents', -amount)
local count = redis.call('HINCRBY', totals_key, 'count', -1)

redis.call('ZREM', day_index, id)
redis.call('DEL', comp_key)

if count <= 0 then
  redis.call('DEL', totals_key, day_index)
  redis.call('ZREM', days_key, fields[5])
end

return 1
`
)
