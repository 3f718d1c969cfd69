package checkpoint

// upsertScript performs the same merge-and-validate logic as
// internal/redisx's commit script, but on its own — used by callers that
// update a checkpoint's status or progress without an accompanying event
// (pause, resume bookkeeping, initial checkpoint creation when a space is
// first touched).
//
// KEYS[1] = checkpoint hash key
// ARGV[1] = scanId
// ARGV[2] = spaceKey
// ARGV[3] = lastProcessedPageId ("" preserves prior value)
// ARGV[4] = lastProcessedAttachmentName ("" preserves prior value)
// ARGV[5] = new status ("" preserves prior status, default RUNNING)
// ARGV[6] = progressPercentage ("-" preserves prior value, default "0")
// ARGV[7] = updatedAt (RFC3339)
const upsertScript = `
local curStatus = redis.call('HGET', KEYS[1], 'status')
local curLastPage = redis.call('HGET', KEYS[1], 'lastProcessedPageId')
local curLastAttachment = redis.call('HGET', KEYS[1], 'lastProcessedAttachmentName')
local curProgress = redis.call('HGET', KEYS[1], 'progressPercentage')

local newStatus = ARGV[5]
if newStatus == '' then
  if curStatus then newStatus = curStatus else newStatus = 'RUNNING' end
end

if curStatus and curStatus ~= '' and curStatus ~= newStatus then
  local legal = false
  if curStatus == 'RUNNING' and (newStatus == 'PAUSED' or newStatus == 'COMPLETED' or newStatus == 'FAILED') then
    legal = true
  elseif curStatus == 'PAUSED' and (newStatus == 'RUNNING' or newStatus == 'COMPLETED' or newStatus == 'FAILED') then
    legal = true
  end
  if not legal then
    return redis.error_reply('illegal transition: ' .. curStatus .. '->' .. newStatus)
  end
end

local newLastPage = ARGV[3]
if newLastPage == '' and curLastPage then newLastPage = curLastPage end
local newLastAttachment = ARGV[4]
if newLastAttachment == '' and curLastAttachment then newLastAttachment = curLastAttachment end
local newProgress = ARGV[6]
if newProgress == '-' then
  if curProgress then newProgress = curProgress else newProgress = '0' end
end

redis.call('HSET', KEYS[1],
  'scanId', ARGV[1],
  'spaceKey', ARGV[2],
  'lastProcessedPageId', newLastPage,
  'lastProcessedAttachmentName', newLastAttachment,
  'status', newStatus,
  'progressPercentage', newProgress,
  'updatedAt', ARGV[7])

return newStatus
`
