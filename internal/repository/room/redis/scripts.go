package redis

import "github.com/redis/go-redis/v9"

// KEYS[1] hash; ARGV[1] ttl, ARGV[2..] field/value pairs. Returns 0 when the hash does not
// exist.
var hSetIfExistsScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	local fields = {}
	for i = 2, #ARGV do
		fields[#fields + 1] = ARGV[i]
	end
	redis.call('HSET', KEYS[1], unpack(fields))
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
	return 1
`)

// KEYS[1] room hash, KEYS[2] participant list, KEYS[3] join request list. ARGV[1] ttl,
// ARGV[2] participant key prefix, ARGV[3] join request key prefix, ARGV[4] pending index
// prefix. Member keys are derived from the lists, so this needs a single redis node.
// Returns 0 when the room does not exist.
var refreshRoomScript = redis.NewScript(`
	local ttl = tonumber(ARGV[1])
	if redis.call('EXPIRE', KEYS[1], ttl) == 0 then
		return 0
	end

	for _, userId in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
		redis.call('EXPIRE', ARGV[2] .. userId, ttl)
	end
	redis.call('EXPIRE', KEYS[2], ttl)

	for _, id in ipairs(redis.call('ZRANGE', KEYS[3], 0, -1)) do
		local requestKey = ARGV[3] .. id
		redis.call('EXPIRE', requestKey, ttl)
		local userId = redis.call('HGET', requestKey, 'user_id')
		if userId then
			redis.call('EXPIRE', ARGV[4] .. userId, ttl)
		end
	end
	redis.call('EXPIRE', KEYS[3], ttl)
	return 1
`)

// KEYS[1] participant hash, KEYS[2] participant list; ARGV[1] ttl, ARGV[2] user id,
// ARGV[3..] field/value pairs. List order is the first join order.
var setParticipantScript = redis.NewScript(`
	local ttl = tonumber(ARGV[1])
	local fields = {}
	for i = 3, #ARGV do
		fields[#fields + 1] = ARGV[i]
	end
	redis.call('HSET', KEYS[1], unpack(fields))
	redis.call('EXPIRE', KEYS[1], ttl)

	if not redis.call('ZSCORE', KEYS[2], ARGV[2]) then
		local maxScore = redis.call('ZREVRANGE', KEYS[2], 0, 0, 'WITHSCORES')
		local nextScore = 1
		if #maxScore > 0 then
			nextScore = tonumber(maxScore[2]) + 1
		end
		redis.call('ZADD', KEYS[2], nextScore, ARGV[2])
	end
	redis.call('EXPIRE', KEYS[2], ttl)
	return 1
`)

// KEYS[1] pending index, KEYS[2] request hash, KEYS[3] request list.
// ARGV: id, room code, user id, username, browser, browser version, created at, ttl.
// Returns {id, created}.
var createJoinRequestScript = redis.NewScript(`
	local existing = redis.call('GET', KEYS[1])
	if existing then
		return {existing, 0}
	end

	local ttl = tonumber(ARGV[8])
	redis.call('HSET', KEYS[2],
		'id', ARGV[1],
		'room_code', ARGV[2],
		'user_id', ARGV[3],
		'username', ARGV[4],
		'browser', ARGV[5],
		'browser_version', ARGV[6],
		'status', 'pending',
		'created_at', ARGV[7],
		'resolved_at', '0')
	redis.call('EXPIRE', KEYS[2], ttl)
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ttl)
	redis.call('ZADD', KEYS[3], ARGV[7], ARGV[1])
	redis.call('EXPIRE', KEYS[3], ttl)
	return {ARGV[1], 1}
`)

// KEYS[1] request hash, KEYS[2] pending index, KEYS[3] participant hash,
// KEYS[4] participant list. ARGV: status, resolved at, room code, user id, username, ttl.
// Returns -1 when the request is missing, 0 when it was already resolved, 1 otherwise.
var resolveJoinRequestScript = redis.NewScript(`
	local status = redis.call('HGET', KEYS[1], 'status')
	if not status then
		return -1
	end
	if status ~= 'pending' then
		return 0
	end

	redis.call('HSET', KEYS[1], 'status', ARGV[1], 'resolved_at', ARGV[2])
	if redis.call('GET', KEYS[2]) == redis.call('HGET', KEYS[1], 'id') then
		redis.call('DEL', KEYS[2])
	end

	if ARGV[1] == 'approved' then
		local ttl = tonumber(ARGV[6])
		local isHost = redis.call('HGET', KEYS[3], 'is_host') or '0'
		redis.call('HSET', KEYS[3],
			'room_code', ARGV[3],
			'user_id', ARGV[4],
			'username', ARGV[5],
			'is_host', isHost,
			'status', 'active',
			'joined_at', ARGV[2],
			'left_at', '0')
		redis.call('EXPIRE', KEYS[3], ttl)

		if not redis.call('ZSCORE', KEYS[4], ARGV[4]) then
			local maxScore = redis.call('ZREVRANGE', KEYS[4], 0, 0, 'WITHSCORES')
			local nextScore = 1
			if #maxScore > 0 then
				nextScore = tonumber(maxScore[2]) + 1
			end
			redis.call('ZADD', KEYS[4], nextScore, ARGV[4])
		end
		redis.call('EXPIRE', KEYS[4], ttl)
	end
	return 1
`)
