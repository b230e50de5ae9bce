package game

import "sync"

// lockEntry はキーごとのミューテックスと待機者数を保持する。
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex はキー（ゲームコード）単位の排他ロックを提供する。
// 使用中のキーのエントリのみを保持し、最後の利用者が解放した時点で削除する。
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewKeyedMutex はKeyedMutexを生成する。
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock はkeyのロックを取得し、解放用の関数を返す。
// 返された関数は1回だけ呼ぶこと。
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// Len は現在保持しているキー数を返す。テスト用。
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
