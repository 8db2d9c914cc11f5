package pinning

import (
	"context"
	"errors"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/pincer/pkg/authn"
	"github.com/wuxler/pincer/pkg/mapping"
	"github.com/wuxler/pincer/pkg/pinning/car"
	"github.com/wuxler/pincer/pkg/util/xcontext"
	"github.com/wuxler/pincer/pkg/xlog"
)

// NewPipeline returns a Pipeline pinning through manager and recording
// results in index.
func NewPipeline(manager *Manager, index *mapping.Index) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		manager: manager,
		index:   index,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Pipeline runs the asynchronous half of a push. Packing happens on the
// caller's goroutine because it is fast and its failure should keep the
// mapping local. The pin itself runs detached on a background context so
// neither client disconnects nor request deadlines can abort it; after a
// successful pin the affected mapping entry is atomically rewritten to the
// remote content id. Failures leave the mapping at the local digest and
// pulls keep working from the local store.
type Pipeline struct {
	manager *Manager
	index   *mapping.Index

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PinBlob packs and pins a finalized blob, then rewrites the image's blob
// table entry to the remote content id.
func (p *Pipeline) PinBlob(cred authn.Credential, image string, dgst digest.Digest, data []byte) {
	p.pin(cred, image, image+"@"+dgst.String(), data, func(contentID string) error {
		return p.index.Mutate(func(tree mapping.Tree) error {
			return tree.SetBlob(image, dgst.String(), contentID)
		})
	})
}

// PinManifest packs and pins a stored manifest, then rewrites the reference
// entry and its digest alias to the remote content id.
func (p *Pipeline) PinManifest(cred authn.Credential, image, reference string, dgst digest.Digest, data []byte) {
	p.pin(cred, image, image+":"+reference, data, func(contentID string) error {
		return p.index.Mutate(func(tree mapping.Tree) error {
			if _, err := tree.SetManifestRef(image, reference, contentID); err != nil {
				return err
			}
			if reference != dgst.String() {
				if _, err := tree.SetManifestRef(image, dgst.String(), contentID); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Wait blocks until every scheduled pin has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close aborts in-flight pins and waits for their goroutines. Content that
// did not make it stays local; the mapping still resolves.
func (p *Pipeline) Close() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *Pipeline) pin(cred authn.Credential, image, name string, data []byte, rewrite func(contentID string) error) {
	if cred.IsZero() {
		xlog.Debugf("no credential on push of %s, content stays local only", name)
		return
	}
	payload, contentID, err := car.Pack(data)
	if err != nil {
		xlog.Errorf("pack %s: %v", name, err)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(cred, image, name, payload, contentID.String(), rewrite)
	}()
}

func (p *Pipeline) run(cred authn.Credential, image, name string, payload []byte, contentID string, rewrite func(contentID string) error) {
	ctx := p.ctx
	if err := xcontext.NonBlockingCheck(ctx, "pin of "+name); err != nil {
		xlog.C(ctx).Debugf("skipping pin of %s: %v", name, err)
		return
	}

	svc, err := p.manager.For(ctx, cred, image)
	if err != nil {
		p.reportFailure(ctx, name, err)
		return
	}
	receipt, err := svc.Pin(ctx, payload, contentID, PinMetadata{Name: name})
	if err != nil {
		p.reportFailure(ctx, name, err)
		return
	}
	pinned := receipt.ContentID
	if pinned == "" {
		pinned = contentID
	}
	if err := rewrite(pinned); err != nil {
		xlog.C(ctx).Errorf("record pinned content id for %s: %v", name, err)
		return
	}
	xlog.C(ctx).Infof("pinned %s as %s", name, pinned)
}

func (p *Pipeline) reportFailure(ctx context.Context, name string, err error) {
	if errors.Is(err, ErrInsufficientFunds) {
		xlog.C(ctx).Warnf("pin %s failed: %v. Fund the wallet tied to the push credential to enable remote pinning.", name, err)
		return
	}
	xlog.C(ctx).Errorf("pin %s failed: %v", name, err)
}
