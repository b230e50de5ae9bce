package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/impostor/internal/model"
)

// MemoryGameRepo はプロセス内メモリを使用したゲームリポジトリ。
// 開発時とテストで使用する。トランザクションは全体ロックで直列化し、
// fnが成功した場合のみ変更を反映する。
type MemoryGameRepo struct {
	mu    sync.Mutex
	state *memoryState
	seq   int64
}

// memoryState はリポジトリ全体のデータ。トランザクション中は複製を操作する。
type memoryState struct {
	games     map[string]*model.Game // key: game ID
	players   map[string]*model.Player
	questions map[string]*model.Question
	rounds    map[string]*model.Round
	answers   map[string]*model.Answer
	votes     map[string]*model.Vote

	// 挿入順。一覧の並び順に使う。
	order map[string]int64
}

// NewMemoryGameRepo はMemoryGameRepoを生成する。
func NewMemoryGameRepo() *MemoryGameRepo {
	return &MemoryGameRepo{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		games:     make(map[string]*model.Game),
		players:   make(map[string]*model.Player),
		questions: make(map[string]*model.Question),
		rounds:    make(map[string]*model.Round),
		answers:   make(map[string]*model.Answer),
		votes:     make(map[string]*model.Vote),
		order:     make(map[string]int64),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.games {
		g := *v
		c.games[k] = &g
	}
	for k, v := range s.players {
		p := *v
		c.players[k] = &p
	}
	for k, v := range s.questions {
		q := *v
		q.RoundID = copyString(v.RoundID)
		c.questions[k] = &q
	}
	for k, v := range s.rounds {
		r := *v
		r.ImpostorAnswerID = copyString(v.ImpostorAnswerID)
		c.rounds[k] = &r
	}
	for k, v := range s.answers {
		a := *v
		a.PlayerID = copyString(v.PlayerID)
		c.answers[k] = &a
	}
	for k, v := range s.votes {
		vote := *v
		c.votes[k] = &vote
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	return c
}

// Create はゲームを作成する。コードが重複した場合はErrDuplicateを返す。
func (r *MemoryGameRepo) Create(_ context.Context, game *model.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.state.games {
		if g.Code == game.Code {
			return fmt.Errorf("ゲームの作成に失敗しました: %w", ErrDuplicate)
		}
	}
	g := *game
	r.state.games[g.ID] = &g
	r.seq++
	r.state.order[g.ID] = r.seq
	return nil
}

// Transact はfnを排他的に実行する。fnがエラーを返した場合は変更を破棄する。
// トランザクションごとにストア全体を複製するため、コストは保持している全ゲームのデータ量に比例する。
// 読み取り専用のGetStateも同じ経路を通るので、STORE_DRIVER=memoryはテストと少人数のローカル実行向け。
// 放置されたゲームはクリーンアップジョブで削除して、ストアを小さく保つこと。
func (r *MemoryGameRepo) Transact(ctx context.Context, fn func(tx GameTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}

	tx := &memoryGameTx{state: r.state.clone(), seq: &r.seq}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

// ListStaleGameCodes はolderThanより前に作成されたゲームのコードを古い順に返す。
func (r *MemoryGameRepo) ListStaleGameCodes(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*model.Game
	for _, g := range r.state.games {
		if g.CreatedAt.Before(olderThan) {
			stale = append(stale, g)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	codes := make([]string, 0, len(stale))
	for _, g := range stale {
		codes = append(codes, g.Code)
	}
	return codes, nil
}

// memoryGameTx はmemoryStateの複製上でGameTxを実装する。
type memoryGameTx struct {
	state *memoryState
	seq   *int64
}

func (t *memoryGameTx) track(id string) {
	*t.seq++
	t.state.order[id] = *t.seq
}

func (t *memoryGameTx) findGame(code string) *model.Game {
	for _, g := range t.state.games {
		if g.Code == code {
			c := *g
			return &c
		}
	}
	return nil
}

func (t *memoryGameTx) FindGameByCode(_ context.Context, code string) (*model.Game, error) {
	return t.findGame(code), nil
}

// LockGameByCode はMemoryGameRepoではTransact全体が排他のためFindGameByCodeと同じ。
func (t *memoryGameTx) LockGameByCode(_ context.Context, code string) (*model.Game, error) {
	return t.findGame(code), nil
}

func (t *memoryGameTx) UpdateGame(_ context.Context, game *model.Game) error {
	g, ok := t.state.games[game.ID]
	if !ok {
		return fmt.Errorf("ゲームが見つかりません: %s", game.ID)
	}
	g.Phase = game.Phase
	g.RoundNumber = game.RoundNumber
	g.QuestionsPerPlayer = game.QuestionsPerPlayer
	return nil
}

func (t *memoryGameTx) ListPlayers(_ context.Context, gameID string) ([]*model.Player, error) {
	var players []*model.Player
	for _, p := range t.state.players {
		if p.GameID == gameID {
			c := *p
			players = append(players, &c)
		}
	}
	sort.Slice(players, func(i, j int) bool { return t.before(players[i].ID, players[j].ID) })
	return players, nil
}

func (t *memoryGameTx) CountPlayers(ctx context.Context, gameID string) (int, error) {
	players, _ := t.ListPlayers(ctx, gameID)
	return len(players), nil
}

func (t *memoryGameTx) FindPlayerByID(_ context.Context, gameID, playerID string) (*model.Player, error) {
	p, ok := t.state.players[playerID]
	if !ok || p.GameID != gameID {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (t *memoryGameTx) FindPlayerByName(_ context.Context, gameID, name string) (*model.Player, error) {
	for _, p := range t.state.players {
		if p.GameID == gameID && p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryGameTx) CreatePlayer(ctx context.Context, player *model.Player) error {
	if existing, _ := t.FindPlayerByName(ctx, player.GameID, player.Name); existing != nil {
		return fmt.Errorf("参加者の作成に失敗しました: %w", ErrDuplicate)
	}
	p := *player
	t.state.players[p.ID] = &p
	t.track(p.ID)
	return nil
}

func (t *memoryGameTx) UpdatePlayerStandings(_ context.Context, players []*model.Player) error {
	for _, in := range players {
		p, ok := t.state.players[in.ID]
		if !ok {
			return fmt.Errorf("参加者が見つかりません: %s", in.ID)
		}
		p.Score = in.Score
		p.Streak = in.Streak
	}
	return nil
}

func (t *memoryGameTx) CountQuestions(ctx context.Context, gameID string) (int, error) {
	questions, _ := t.ListQuestions(ctx, gameID)
	return len(questions), nil
}

func (t *memoryGameTx) CountQuestionsByPlayer(_ context.Context, gameID, playerID string) (int, error) {
	n := 0
	for _, q := range t.state.questions {
		if q.GameID == gameID && q.PlayerID == playerID {
			n++
		}
	}
	return n, nil
}

func (t *memoryGameTx) ListQuestions(_ context.Context, gameID string) ([]*model.Question, error) {
	var questions []*model.Question
	for _, q := range t.state.questions {
		if q.GameID == gameID {
			c := *q
			c.RoundID = copyString(q.RoundID)
			questions = append(questions, &c)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return t.before(questions[i].ID, questions[j].ID) })
	return questions, nil
}

func (t *memoryGameTx) CreateQuestion(_ context.Context, question *model.Question) error {
	q := *question
	q.RoundID = nil
	t.state.questions[q.ID] = &q
	t.track(q.ID)
	return nil
}

func (t *memoryGameTx) LinkQuestionToRound(_ context.Context, questionID, roundID string) error {
	q, ok := t.state.questions[questionID]
	if !ok || q.RoundID != nil {
		return fmt.Errorf("未使用の質問が見つかりません: %s", questionID)
	}
	q.RoundID = &roundID
	return nil
}

func (t *memoryGameTx) CreateRound(_ context.Context, round *model.Round) error {
	for _, r := range t.state.rounds {
		if r.GameID == round.GameID && r.Index == round.Index {
			return fmt.Errorf("ラウンドの作成に失敗しました: %w", ErrDuplicate)
		}
	}
	r := *round
	r.ImpostorAnswerID = nil
	t.state.rounds[r.ID] = &r
	t.track(r.ID)
	return nil
}

func (t *memoryGameTx) FindRoundByIndex(_ context.Context, gameID string, index int) (*model.Round, error) {
	for _, r := range t.state.rounds {
		if r.GameID == gameID && r.Index == index {
			c := *r
			c.ImpostorAnswerID = copyString(r.ImpostorAnswerID)
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryGameTx) SetImpostorAnswer(_ context.Context, roundID, answerID string) error {
	r, ok := t.state.rounds[roundID]
	if !ok || r.ImpostorAnswerID != nil {
		return fmt.Errorf("AI回答未設定のラウンドが見つかりません: %s", roundID)
	}
	r.ImpostorAnswerID = &answerID
	return nil
}

func (t *memoryGameTx) ClearImpostorAnswers(_ context.Context, gameID string) error {
	for _, r := range t.state.rounds {
		if r.GameID == gameID {
			r.ImpostorAnswerID = nil
		}
	}
	return nil
}

func (t *memoryGameTx) CreateAnswer(_ context.Context, answer *model.Answer) error {
	for _, a := range t.state.answers {
		if a.RoundID != answer.RoundID {
			continue
		}
		if a.IsImpostor() && answer.IsImpostor() {
			return fmt.Errorf("回答の作成に失敗しました: %w", ErrDuplicate)
		}
		if !a.IsImpostor() && !answer.IsImpostor() && *a.PlayerID == *answer.PlayerID {
			return fmt.Errorf("回答の作成に失敗しました: %w", ErrDuplicate)
		}
	}
	a := *answer
	a.PlayerID = copyString(answer.PlayerID)
	t.state.answers[a.ID] = &a
	t.track(a.ID)
	return nil
}

func (t *memoryGameTx) FindAnswerByID(_ context.Context, roundID, answerID string) (*model.Answer, error) {
	a, ok := t.state.answers[answerID]
	if !ok || a.RoundID != roundID {
		return nil, nil
	}
	c := *a
	c.PlayerID = copyString(a.PlayerID)
	return &c, nil
}

func (t *memoryGameTx) FindAnswerByPlayer(_ context.Context, roundID, playerID string) (*model.Answer, error) {
	for _, a := range t.state.answers {
		if a.RoundID == roundID && a.PlayerID != nil && *a.PlayerID == playerID {
			c := *a
			c.PlayerID = copyString(a.PlayerID)
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryGameTx) ListAnswers(_ context.Context, roundID string) ([]*model.Answer, error) {
	var answers []*model.Answer
	for _, a := range t.state.answers {
		if a.RoundID == roundID {
			c := *a
			c.PlayerID = copyString(a.PlayerID)
			answers = append(answers, &c)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return t.before(answers[i].ID, answers[j].ID) })
	return answers, nil
}

func (t *memoryGameTx) CountHumanAnswers(_ context.Context, roundID string) (int, error) {
	n := 0
	for _, a := range t.state.answers {
		if a.RoundID == roundID && !a.IsImpostor() {
			n++
		}
	}
	return n, nil
}

func (t *memoryGameTx) CreateVote(_ context.Context, vote *model.Vote) error {
	for _, v := range t.state.votes {
		if v.RoundID == vote.RoundID && v.VoterPlayerID == vote.VoterPlayerID {
			return fmt.Errorf("投票の作成に失敗しました: %w", ErrDuplicate)
		}
	}
	v := *vote
	t.state.votes[v.ID] = &v
	t.track(v.ID)
	return nil
}

func (t *memoryGameTx) FindVoteByPlayer(_ context.Context, roundID, playerID string) (*model.Vote, error) {
	for _, v := range t.state.votes {
		if v.RoundID == roundID && v.VoterPlayerID == playerID {
			c := *v
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memoryGameTx) ListVotes(_ context.Context, roundID string) ([]*model.Vote, error) {
	var votes []*model.Vote
	for _, v := range t.state.votes {
		if v.RoundID == roundID {
			c := *v
			votes = append(votes, &c)
		}
	}
	sort.Slice(votes, func(i, j int) bool { return t.before(votes[i].ID, votes[j].ID) })
	return votes, nil
}

func (t *memoryGameTx) CountVotes(ctx context.Context, roundID string) (int, error) {
	votes, _ := t.ListVotes(ctx, roundID)
	return len(votes), nil
}

func (t *memoryGameTx) roundIDs(gameID string) map[string]bool {
	ids := make(map[string]bool)
	for _, r := range t.state.rounds {
		if r.GameID == gameID {
			ids[r.ID] = true
		}
	}
	return ids
}

func (t *memoryGameTx) DeleteVotesByGame(_ context.Context, gameID string) error {
	rounds := t.roundIDs(gameID)
	for id, v := range t.state.votes {
		if rounds[v.RoundID] {
			removeRow(t.state, t.state.votes, id)
		}
	}
	return nil
}

func (t *memoryGameTx) DeleteAnswersByGame(_ context.Context, gameID string) error {
	rounds := t.roundIDs(gameID)
	for _, r := range t.state.rounds {
		if r.GameID == gameID && r.ImpostorAnswerID != nil {
			return fmt.Errorf("回答の削除に失敗しました: ラウンド %s がAI回答を参照しています", r.ID)
		}
	}
	for _, v := range t.state.votes {
		if rounds[v.RoundID] {
			return fmt.Errorf("回答の削除に失敗しました: 投票 %s が回答を参照しています", v.ID)
		}
	}
	for id, a := range t.state.answers {
		if rounds[a.RoundID] {
			removeRow(t.state, t.state.answers, id)
		}
	}
	return nil
}

func (t *memoryGameTx) DeleteQuestionsByGame(_ context.Context, gameID string) error {
	for id, q := range t.state.questions {
		if q.GameID == gameID {
			removeRow(t.state, t.state.questions, id)
		}
	}
	return nil
}

func (t *memoryGameTx) DeleteRoundsByGame(_ context.Context, gameID string) error {
	rounds := t.roundIDs(gameID)
	for _, a := range t.state.answers {
		if rounds[a.RoundID] {
			return fmt.Errorf("ラウンドの削除に失敗しました: 回答 %s がラウンドを参照しています", a.ID)
		}
	}
	for id := range rounds {
		removeRow(t.state, t.state.rounds, id)
	}
	return nil
}

func (t *memoryGameTx) DeletePlayersByGame(_ context.Context, gameID string) error {
	for _, q := range t.state.questions {
		if q.GameID == gameID {
			return fmt.Errorf("参加者の削除に失敗しました: 質問 %s が参加者を参照しています", q.ID)
		}
	}
	for id, p := range t.state.players {
		if p.GameID == gameID {
			removeRow(t.state, t.state.players, id)
		}
	}
	return nil
}

func (t *memoryGameTx) DeleteGame(_ context.Context, gameID string) error {
	if _, ok := t.state.games[gameID]; !ok {
		return fmt.Errorf("ゲームが見つかりません: %s", gameID)
	}
	for _, p := range t.state.players {
		if p.GameID == gameID {
			return fmt.Errorf("ゲームの削除に失敗しました: 参加者 %s がゲームを参照しています", p.ID)
		}
	}
	for _, r := range t.state.rounds {
		if r.GameID == gameID {
			return fmt.Errorf("ゲームの削除に失敗しました: ラウンド %s がゲームを参照しています", r.ID)
		}
	}
	removeRow(t.state, t.state.games, gameID)
	return nil
}

// removeRow は外部キー相当の参照チェック済みの行を削除する。
func removeRow[T any](s *memoryState, m map[string]T, id string) {
	delete(m, id)
	delete(s.order, id)
}

// before は挿入順でaがbより先かどうかを返す。
func (t *memoryGameTx) before(a, b string) bool {
	return t.state.order[a] < t.state.order[b]
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// compile-time interface check
var (
	_ GameRepository  = (*MemoryGameRepo)(nil)
	_ StaleGameFinder = (*MemoryGameRepo)(nil)
	_ GameTx          = (*memoryGameTx)(nil)
)
