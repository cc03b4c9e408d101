package coordinator

import (
	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/skinstore"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

// ReloadResult reports the outcome of Reload.
type ReloadResult struct {
	OK     bool // false when the durable store could not be listed
	Loaded int
	Sent   int
}

// envelopesOf splits a record once so it can be sent to many participants.
func (c *Coordinator) envelopesOf(rec model.ServerSkinRecord) []*wire.Envelope {
	meta, payload := transfer.Encode(rec.Asset())
	chunks := c.splitter.Split(meta, payload)
	envs := make([]*wire.Envelope, len(chunks))
	for i, ch := range chunks {
		envs[i] = convert.SkinEnvelope(rec.OwnerID, ch)
	}
	return envs
}

// sendTo queues owner's whole transfer for p. An unreachable participant is logged and skipped.
func (c *Coordinator) sendTo(p *participant, owner string, envs []*wire.Envelope) bool {
	if err := p.sender.Send(envs...); err != nil {
		c.log.Warn("send skin failed",
			zap.String("participant", p.id), zap.String("owner", owner),
			zap.Int("chunks", len(envs)), zap.Error(err))
		return false
	}
	return true
}

// broadcast sends rec to every participant except its owner and returns the number reached.
func (c *Coordinator) broadcast(rec model.ServerSkinRecord) int {
	envs := c.envelopesOf(rec)
	sent := 0
	for _, id := range c.participantIDs() {
		if id == rec.OwnerID {
			continue
		}
		if c.sendTo(c.participants[id], rec.OwnerID, envs) {
			sent++
		}
	}
	return sent
}

// --- Operations (loop-only) ---

// SubmitAsset replaces owner's cached record, broadcasts it to the other
// participants and persists it in the background. A failed persist changes nothing.
func (c *Coordinator) SubmitAsset(owner string, a model.SkinAsset) {
	rec := model.RecordFromAsset(owner, a)
	c.cache[owner] = rec
	c.gen[owner]++
	sent := c.broadcast(rec)
	c.log.Info("skin submitted",
		zap.String("owner", owner), zap.String("asset", rec.AssetID),
		zap.Int("bytes", a.Size()), zap.Int("sent", sent))

	if c.store == nil {
		return
	}
	await(c, c.store.Upsert(convert.RecordToStored(rec)), func(ok bool) {
		if !ok {
			c.log.Warn("skin not persisted; live session unaffected", zap.String("owner", owner))
		}
	})
}

// RequestAsset sends target's asset to requester, from the cache or, on a
// miss, from the durable store once the fetch completes. Nothing is sent when
// neither has it.
func (c *Coordinator) RequestAsset(requester, target string) {
	if rec, ok := c.cache[target]; ok {
		if p, ok := c.participants[requester]; ok {
			c.sendTo(p, target, c.envelopesOf(rec))
		}
		return
	}
	if c.store == nil {
		c.log.Debug("requested skin not cached", zap.String("target", target))
		return
	}
	gen := c.gen[target]
	await(c, c.store.Fetch(target), func(f skinstore.Fetched) {
		rec, ok := c.cache[target]
		switch {
		case ok:
		case c.gen[target] != gen:
			c.log.Debug("requested skin changed during fetch", zap.String("target", target))
			return
		case !f.OK:
			c.log.Debug("requested skin unknown", zap.String("requester", requester), zap.String("target", target))
			return
		default:
			rec = convert.StoredToRecord(f.Skin)
			c.cache[target] = rec
		}
		if p, ok := c.participants[requester]; ok {
			c.sendTo(p, target, c.envelopesOf(rec))
		}
	})
}

// ResetAsset drops owner's record, tells every other participant it was
// cleared and deletes it from the durable store in the background.
func (c *Coordinator) ResetAsset(owner string) {
	delete(c.cache, owner)
	c.gen[owner]++
	cleared := convert.ClearedEnvelope(owner)
	for _, id := range c.participantIDs() {
		if id == owner {
			continue
		}
		if err := c.participants[id].sender.Send(cleared); err != nil {
			c.log.Warn("send cleared failed", zap.String("participant", id), zap.String("owner", owner), zap.Error(err))
		}
	}
	c.log.Info("skin reset", zap.String("owner", owner))

	if c.store == nil {
		return
	}
	await(c, c.store.Delete(owner), func(ok bool) {
		if !ok {
			c.log.Warn("stored skin not deleted", zap.String("owner", owner))
		}
	})
}

// ResyncAll re-sends every cached record to every participant except its
// owner and returns the number of records delivered.
func (c *Coordinator) ResyncAll() int {
	sent := 0
	for _, owner := range c.ownerIDs() {
		sent += c.broadcast(c.cache[owner])
	}
	c.log.Info("resync all", zap.Int("sent", sent))
	return sent
}

// ResyncOne re-sends owner's record to everyone else. found is false when owner has no record.
func (c *Coordinator) ResyncOne(owner string) (sent int, found bool) {
	rec, ok := c.cache[owner]
	if !ok {
		return 0, false
	}
	sent = c.broadcast(rec)
	c.log.Info("resync one", zap.String("owner", owner), zap.Int("sent", sent))
	return sent, true
}

// Reload merges the durable store's records into the cache and resyncs
// everyone; done runs on the loop afterwards.
func (c *Coordinator) Reload(done func(ReloadResult)) {
	if c.store == nil {
		done(ReloadResult{})
		return
	}
	gens := c.generations()
	await(c, c.store.List(), func(skins []model.StoredSkin) {
		if skins == nil {
			done(ReloadResult{})
			return
		}
		loaded := c.merge(skins, gens)
		done(ReloadResult{OK: true, Loaded: loaded, Sent: c.ResyncAll()})
	})
}

func (c *Coordinator) warm() {
	if c.store == nil {
		return
	}
	gens := c.generations()
	await(c, c.store.List(), func(skins []model.StoredSkin) {
		if skins == nil {
			c.log.Warn("cache warm-up skipped; store unavailable")
			return
		}
		c.log.Info("cache warmed", zap.Int("loaded", c.merge(skins, gens)), zap.Int("cached", len(c.cache)))
	})
}

func (c *Coordinator) generations() map[string]uint64 {
	out := make(map[string]uint64, len(c.gen))
	for k, v := range c.gen {
		out[k] = v
	}
	return out
}

// merge adds stored records, keeping a cached record when it is newer.
// Owners submitted or reset since gens was taken are skipped.
func (c *Coordinator) merge(skins []model.StoredSkin, gens map[string]uint64) int {
	n := 0
	for _, s := range skins {
		rec := convert.StoredToRecord(s)
		if c.gen[rec.OwnerID] != gens[rec.OwnerID] {
			continue
		}
		if cur, ok := c.cache[rec.OwnerID]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
			continue
		}
		c.cache[rec.OwnerID] = rec
		n++
	}
	return n
}
