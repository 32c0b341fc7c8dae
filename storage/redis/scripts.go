package redis

import (
	goredis "github.com/redis/go-redis/v9"
)

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Each script runs atomically on the server, so of any number of concurrent callers
// presenting the same code or refresh token only one observes the unused state.
// Scripts reply with a status string followed by the record when relevant.

// redeemCodeScript checks and consumes an authorization code.
//
// KEYS[1] = code key
// ARGV[1] = now (Unix ms), ARGV[2] = grace period (ms)
// ARGV[3] = redeeming client id, ARGV[4] = presented redirect URI ('' when absent)
//
// Replies: {'NOT_FOUND'}, {'EXPIRED'}, {'USED', data}, {'MISMATCH'}, {'OK', data}.
// A mismatch leaves the code unredeemed.
var redeemCodeScript = goredis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return {'NOT_FOUND'}
end

local code = cjson.decode(data)
local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at) or 0
if expiresAt > 0 and now > expiresAt + tonumber(ARGV[2]) then
    return {'EXPIRED'}
end

if code.used then
    return {'USED', data}
end

if code.client_id ~= ARGV[3] then
    return {'MISMATCH'}
end
local redirect = ARGV[4]
if code.redirect_uri_provided then
    if redirect ~= code.redirect_uri then
        return {'MISMATCH'}
    end
elseif redirect ~= '' and redirect ~= code.redirect_uri then
    return {'MISMATCH'}
end

code.used = true
code.used_at = now
local updated = cjson.encode(code)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return {'OK', updated}
`)

// exchangeRefreshScript validates a presented refresh token and stores its successors
// in one step. Nothing is written unless every check passes, so a failed exchange
// leaves the presented token usable.
//
// KEYS[1] = presented token key, KEYS[2] = its children index key,
// KEYS[3 .. 2+n] = successor token keys, remaining KEYS = index sets to extend
// ARGV[1] = now (Unix ms), ARGV[2] = grace period (ms), ARGV[3] = presenting client id,
// ARGV[4] = '1' to revoke the presented token and its access tokens,
// ARGV[5] = revoked retention (ms), ARGV[6] = token key prefix, ARGV[7] = n,
// then n pairs (payload, ttl ms), then per index set: ttl ms, member count, members.
// A ttl of 0 means no expiry; an index set's TTL only ever grows.
//
// Replies: {'NOT_FOUND'}, {'REVOKED', data}, {'EXPIRED'}, {'MISMATCH'}, {'EXISTS'},
// {'OK', data}.
var exchangeRefreshScript = goredis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return {'NOT_FOUND'}
end

local token = cjson.decode(data)
if token.kind ~= 'refresh' then
    return {'NOT_FOUND'}
end
if token.revoked then
    return {'REVOKED', data}
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(token.expires_at) or 0
if expiresAt > 0 and now > expiresAt + tonumber(ARGV[2]) then
    return {'EXPIRED'}
end
if token.client_id ~= ARGV[3] then
    return {'MISMATCH'}
end

local n = tonumber(ARGV[7])
for i = 1, n do
    if redis.call('EXISTS', KEYS[2 + i]) == 1 then
        return {'EXISTS'}
    end
end

local arg = 8
for i = 1, n do
    local ttl = tonumber(ARGV[arg + 1])
    if ttl > 0 then
        redis.call('SET', KEYS[2 + i], ARGV[arg], 'PX', ttl)
    else
        redis.call('SET', KEYS[2 + i], ARGV[arg])
    end
    arg = arg + 2
end

local key = 2 + n
while arg <= #ARGV do
    key = key + 1
    local ttl = tonumber(ARGV[arg])
    local count = tonumber(ARGV[arg + 1])
    local current = redis.call('PTTL', KEYS[key])
    for j = 1, count do
        redis.call('SADD', KEYS[key], ARGV[arg + 1 + j])
    end
    if current == -1 then
        -- exists without expiry
    elseif ttl == 0 then
        redis.call('PERSIST', KEYS[key])
    elseif current == -2 or current < ttl then
        redis.call('PEXPIRE', KEYS[key], ttl)
    end
    arg = arg + 2 + count
end

if ARGV[4] == '1' then
    token.revoked = true
    token.revoked_at = now
    data = cjson.encode(token)
    redis.call('SET', KEYS[1], data, 'KEEPTTL')
    if redis.call('PTTL', KEYS[1]) == -1 then
        redis.call('PEXPIRE', KEYS[1], ARGV[5])
    end

    for _, child in ipairs(redis.call('SMEMBERS', KEYS[2])) do
        local childKey = ARGV[6] .. child
        local childData = redis.call('GET', childKey)
        if childData then
            local access = cjson.decode(childData)
            if not access.revoked then
                access.revoked = true
                access.revoked_at = now
                redis.call('SET', childKey, cjson.encode(access), 'KEEPTTL')
                if redis.call('PTTL', childKey) == -1 then
                    redis.call('PEXPIRE', childKey, ARGV[5])
                end
            end
        end
    end
end
return {'OK', data}
`)

// revokeScript marks one token revoked. Tokens without a TTL get the retention period
// so revoked non-expiring tokens are eventually reclaimed.
//
// KEYS[1] = token key
// ARGV[1] = now (Unix ms), ARGV[2] = retention (ms)
//
// Replies: {-1, ''} when missing, {0, kind} when already revoked, {1, kind} when revoked now.
var revokeScript = goredis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return {-1, ''}
end

local token = cjson.decode(data)
if token.revoked then
    return {0, token.kind}
end

token.revoked = true
token.revoked_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')
if redis.call('PTTL', KEYS[1]) == -1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, token.kind}
`)
